package services

import (
	"context"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/charlesng35/studyhub/internal/models"
)

const (
	defaultSearchPageSize = 9
	maxSearchPageSize     = 50
	// Pages past this are empty anyway; the cap keeps page*pageSize from overflowing.
	maxSearchPage = 100000
	recentStudiesLimit    = 9
	accountStudiesLimit   = 5

	// Drafts have no publish time and sort after published studies on every dialect.
	publishedFirstOrder = "CASE WHEN published_date_time IS NULL THEN 1 ELSE 0 END, published_date_time DESC, created_at DESC"
)

// SearchSort selects the ordering of search results.
type SearchSort string

const (
	SortPublishedDateTime SearchSort = "publishedDateTime"
	SortMemberCount       SearchSort = "memberCount"
)

// SearchInput describes a keyword search over published studies. Page is zero based.
type SearchInput struct {
	Keyword  string
	Sort     SearchSort
	Page     int
	PageSize int
}

// SearchResult is one page of matches.
type SearchResult struct {
	Items    []models.Study
	Total    int64
	Page     int
	PageSize int
}

// HomeFeed groups the studies shown on an account's home page.
type HomeFeed struct {
	Interests []models.Study `json:"interests"`
	Managing  []models.Study `json:"managing"`
	Joined    []models.Study `json:"joined"`
}

// Search matches the keyword case-insensitively against titles, tag titles and zone city names.
func (s *StudyService) Search(ctx context.Context, input SearchInput) (*SearchResult, error) {
	ctx = ensureContext(ctx)

	pageSize := input.PageSize
	if pageSize <= 0 || pageSize > maxSearchPageSize {
		pageSize = defaultSearchPageSize
	}
	page := input.Page
	if page < 0 {
		page = 0
	}
	if page > maxSearchPage {
		page = maxSearchPage
	}

	query := s.db.WithContext(ctx).Model(&models.Study{}).Where("studies.published = ?", true)
	if keyword := strings.ToLower(strings.TrimSpace(input.Keyword)); keyword != "" {
		like := containsPattern(keyword)
		tagMatches := s.db.Table("study_tags").
			Select("study_tags.study_id").
			Joins("JOIN tags ON tags.id = study_tags.tag_id").
			Where("LOWER(tags.title) LIKE ? ESCAPE '!'", like)
		zoneMatches := s.db.Table("study_zones").
			Select("study_zones.study_id").
			Joins("JOIN zones ON zones.id = study_zones.zone_id").
			Where("LOWER(zones.local_name_of_city) LIKE ? ESCAPE '!' OR LOWER(zones.city) LIKE ? ESCAPE '!'", like, like)

		query = query.Where(s.db.
			Where("LOWER(studies.title) LIKE ? ESCAPE '!'", like).
			Or("studies.id IN (?)", tagMatches).
			Or("studies.id IN (?)", zoneMatches))
	}
	query = query.Session(&gorm.Session{})

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, fmt.Errorf("study service: count search: %w", err)
	}

	var items []models.Study
	if err := query.
		Preload("Tags").Preload("Zones").
		Order(searchOrder(input.Sort)).
		Limit(pageSize).
		Offset(page * pageSize).
		Find(&items).Error; err != nil {
		return nil, fmt.Errorf("study service: search: %w", err)
	}

	return &SearchResult{Items: items, Total: total, Page: page, PageSize: pageSize}, nil
}

// RecentPublished lists the newest published studies that are still open.
func (s *StudyService) RecentPublished(ctx context.Context) ([]models.Study, error) {
	ctx = ensureContext(ctx)
	var items []models.Study
	if err := s.db.WithContext(ctx).
		Preload("Tags").Preload("Zones").
		Where("published = ? AND closed = ?", true, false).
		Order("published_date_time DESC").
		Limit(recentStudiesLimit).
		Find(&items).Error; err != nil {
		return nil, fmt.Errorf("study service: recent studies: %w", err)
	}
	return items, nil
}

// ForAccountInterests lists open studies sharing at least one tag and one zone with the account.
func (s *StudyService) ForAccountInterests(ctx context.Context, accountID string) ([]models.Study, error) {
	ctx = ensureContext(ctx)
	accountTags := s.db.Table("account_tags").Select("tag_id").Where("account_id = ?", accountID)
	accountZones := s.db.Table("account_zones").Select("zone_id").Where("account_id = ?", accountID)
	studiesByTag := s.db.Table("study_tags").Select("study_id").Where("tag_id IN (?)", accountTags)
	studiesByZone := s.db.Table("study_zones").Select("study_id").Where("zone_id IN (?)", accountZones)

	var items []models.Study
	if err := s.db.WithContext(ctx).
		Preload("Tags").Preload("Zones").
		Where("published = ? AND closed = ?", true, false).
		Where("id IN (?)", studiesByTag).
		Where("id IN (?)", studiesByZone).
		Order("published_date_time DESC").
		Limit(recentStudiesLimit).
		Find(&items).Error; err != nil {
		return nil, fmt.Errorf("study service: interest studies: %w", err)
	}
	return items, nil
}

// ManagedBy lists the newest open studies the account manages.
func (s *StudyService) ManagedBy(ctx context.Context, accountID string) ([]models.Study, error) {
	return s.accountStudies(ctx, "study_managers", accountID)
}

// MemberOf lists the newest open studies the account has joined.
func (s *StudyService) MemberOf(ctx context.Context, accountID string) ([]models.Study, error) {
	return s.accountStudies(ctx, "study_members", accountID)
}

// Feed assembles the home page lists for an account.
func (s *StudyService) Feed(ctx context.Context, accountID string) (*HomeFeed, error) {
	interests, err := s.ForAccountInterests(ctx, accountID)
	if err != nil {
		return nil, err
	}
	managing, err := s.ManagedBy(ctx, accountID)
	if err != nil {
		return nil, err
	}
	joined, err := s.MemberOf(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return &HomeFeed{Interests: interests, Managing: managing, Joined: joined}, nil
}

func (s *StudyService) accountStudies(ctx context.Context, joinTable, accountID string) ([]models.Study, error) {
	ctx = ensureContext(ctx)
	var items []models.Study
	if err := s.db.WithContext(ctx).
		Where("closed = ?", false).
		Where("id IN (?)", s.db.Table(joinTable).Select("study_id").Where("account_id = ?", accountID)).
		Order(publishedFirstOrder).
		Limit(accountStudiesLimit).
		Find(&items).Error; err != nil {
		return nil, fmt.Errorf("study service: %s studies: %w", strings.TrimPrefix(joinTable, "study_"), err)
	}
	return items, nil
}

var likeEscaper = strings.NewReplacer("!", "!!", "%", "!%", "_", "!_")

// containsPattern builds a LIKE pattern matching keyword literally anywhere in a value.
func containsPattern(keyword string) string {
	return "%" + likeEscaper.Replace(keyword) + "%"
}

func searchOrder(sort SearchSort) string {
	if sort == SortMemberCount {
		return "studies.member_count DESC, studies.published_date_time DESC"
	}
	return "studies.published_date_time DESC"
}

