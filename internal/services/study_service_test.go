package services

import (
	"context"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/studyhub/internal/events"
	"github.com/charlesng35/studyhub/internal/models"
	apperrors "github.com/charlesng35/studyhub/pkg/errors"
)

func TestCreateStudyStartsAsDraftManagedByActor(t *testing.T) {
	db := openServiceDB(t)
	bus := &recordingPublisher{}
	svc := newStudyService(t, db, bus, newTestClock())
	manager := createAccount(t, db, "manager")

	study := createStudy(t, svc, manager, "spring-jpa")
	require.Equal(t, models.StudyStateDraft, study.State())

	loaded, err := svc.Get(context.Background(), "spring-jpa", ProfileAll)
	require.NoError(t, err)
	require.True(t, loaded.IsManager(manager.ID))
	require.False(t, loaded.IsMember(manager.ID))
	require.Zero(t, loaded.MemberCount)
	require.Empty(t, bus.published())
}

func TestCreateStudyValidation(t *testing.T) {
	db := openServiceDB(t)
	svc := newStudyService(t, db, nil, newTestClock())
	manager := createAccount(t, db, "manager")
	createStudy(t, svc, manager, "taken")

	_, err := svc.Create(context.Background(), manager.ID, CreateStudyInput{
		Path: "taken", Title: "t", ShortDescription: "s", FullDescription: "f",
	})
	require.ErrorIs(t, err, apperrors.ErrValidation)
	require.Equal(t, "path", apperrors.FromError(err).Fields[0].Field)

	_, err = svc.Create(context.Background(), manager.ID, CreateStudyInput{
		Path: "Bad Path", Title: "t", ShortDescription: "s", FullDescription: "f",
	})
	require.ErrorIs(t, err, apperrors.ErrValidation)

	var count int64
	require.NoError(t, db.Model(&models.Study{}).Count(&count).Error)
	require.EqualValues(t, 1, count)
}

func TestGetUnknownStudy(t *testing.T) {
	db := openServiceDB(t)
	svc := newStudyService(t, db, nil, newTestClock())

	_, err := svc.Get(context.Background(), "missing", ProfileBare)
	require.ErrorIs(t, err, ErrStudyNotFound)
	_, err = svc.GetByID(context.Background(), "missing", ProfileTagsAndZones)
	require.ErrorIs(t, err, ErrStudyNotFound)
}

func TestFetchProfilesLoadOnlyNamedAssociations(t *testing.T) {
	db := openServiceDB(t)
	svc := newStudyService(t, db, nil, newTestClock())
	manager := createAccount(t, db, "manager")
	createStudy(t, svc, manager, "profiles")
	_, err := svc.AddTag(context.Background(), manager.ID, "profiles", "go")
	require.NoError(t, err)

	bare, err := svc.Get(context.Background(), "profiles", ProfileBare)
	require.NoError(t, err)
	require.Nil(t, bare.Tags)
	require.Nil(t, bare.Managers)

	withTags, err := svc.Get(context.Background(), "profiles", ProfileTagsAndManagers)
	require.NoError(t, err)
	require.Len(t, withTags.Tags, 1)
	require.Len(t, withTags.Managers, 1)
	require.Nil(t, withTags.Zones)
}

func TestPublishRaisesStudyCreatedOnce(t *testing.T) {
	db := openServiceDB(t)
	bus := &recordingPublisher{}
	clock := newTestClock()
	svc := newStudyService(t, db, bus, clock)
	manager := createAccount(t, db, "manager")
	createStudy(t, svc, manager, "publish")

	study, err := svc.Publish(context.Background(), manager.ID, "publish")
	require.NoError(t, err)
	require.True(t, study.Published)
	require.NotNil(t, study.PublishedDateTime)
	require.False(t, study.PublishedDateTime.Before(clock.Now()))

	_, err = svc.Publish(context.Background(), manager.ID, "publish")
	require.ErrorIs(t, err, ErrStudyInvalidTransition)
	require.Equal(t, 409, apperrors.FromError(err).StatusCode)

	published := bus.published()
	require.Len(t, published, 1)
	require.Equal(t, events.StudyCreated{StudyID: study.ID}, published[0])
}

func TestCloseOnlyFromPublished(t *testing.T) {
	db := openServiceDB(t)
	bus := &recordingPublisher{}
	svc := newStudyService(t, db, bus, newTestClock())
	manager := createAccount(t, db, "manager")
	createStudy(t, svc, manager, "closing")

	_, err := svc.Close(context.Background(), manager.ID, "closing")
	require.ErrorIs(t, err, ErrStudyInvalidTransition)

	_, err = svc.Publish(context.Background(), manager.ID, "closing")
	require.NoError(t, err)
	closed, err := svc.Close(context.Background(), manager.ID, "closing")
	require.NoError(t, err)
	require.Equal(t, models.StudyStateClosed, closed.State())

	_, err = svc.Close(context.Background(), manager.ID, "closing")
	require.ErrorIs(t, err, ErrStudyInvalidTransition)

	published := bus.published()
	require.Len(t, published, 2)
	require.Equal(t, events.StudyUpdated{StudyID: closed.ID, Message: MessageStudyClosed}, published[1])
}

func TestRecruitingToggleRespectsInterval(t *testing.T) {
	db := openServiceDB(t)
	bus := &recordingPublisher{}
	clock := newTestClock()
	svc := newStudyService(t, db, bus, clock)
	manager := createAccount(t, db, "manager")
	createStudy(t, svc, manager, "recruit")

	_, err := svc.StartRecruit(context.Background(), manager.ID, "recruit")
	require.ErrorIs(t, err, ErrStudyInvalidTransition)

	_, err = svc.Publish(context.Background(), manager.ID, "recruit")
	require.NoError(t, err)

	study, err := svc.StartRecruit(context.Background(), manager.ID, "recruit")
	require.NoError(t, err)
	require.True(t, study.Recruiting)

	clock.Advance(2 * time.Hour)
	_, err = svc.StopRecruit(context.Background(), manager.ID, "recruit")
	require.ErrorIs(t, err, ErrStudyInvalidTransition)

	clock.Advance(time.Hour)
	study, err = svc.StopRecruit(context.Background(), manager.ID, "recruit")
	require.NoError(t, err)
	require.False(t, study.Recruiting)

	reloaded, err := svc.Get(context.Background(), "recruit", ProfileBare)
	require.NoError(t, err)
	require.False(t, reloaded.Recruiting)
	require.True(t, reloaded.RecruitingUpdatedDateTime.Equal(clock.Now()))

	var messages []string
	for _, evt := range bus.published() {
		if updated, ok := evt.(events.StudyUpdated); ok {
			messages = append(messages, updated.Message)
		}
	}
	require.Equal(t, []string{MessageRecruitStarted, MessageRecruitStopped}, messages)
}

func TestManagerOperationsRequireManager(t *testing.T) {
	db := openServiceDB(t)
	svc := newStudyService(t, db, nil, newTestClock())
	manager := createAccount(t, db, "manager")
	stranger := createAccount(t, db, "stranger")
	createStudy(t, svc, manager, "guarded")

	_, err := svc.Publish(context.Background(), stranger.ID, "guarded")
	require.ErrorIs(t, err, ErrStudyForbidden)
	_, err = svc.GetForUpdate(context.Background(), stranger.ID, "guarded", ProfileAll)
	require.ErrorIs(t, err, ErrStudyForbidden)
	_, err = svc.UpdateTitle(context.Background(), stranger.ID, "guarded", "hijacked")
	require.ErrorIs(t, err, ErrStudyForbidden)
	require.ErrorIs(t, svc.Remove(context.Background(), stranger.ID, "guarded"), ErrStudyForbidden)
}

func TestUpdateDescriptionRaisesStudyUpdated(t *testing.T) {
	db := openServiceDB(t)
	bus := &recordingPublisher{}
	svc := newStudyService(t, db, bus, newTestClock())
	manager := createAccount(t, db, "manager")
	created := createStudy(t, svc, manager, "describe")

	_, err := svc.UpdateDescription(context.Background(), manager.ID, "describe", DescriptionInput{})
	require.ErrorIs(t, err, apperrors.ErrValidation)

	study, err := svc.UpdateDescription(context.Background(), manager.ID, "describe", DescriptionInput{
		ShortDescription: "new short",
		FullDescription:  "new full",
	})
	require.NoError(t, err)
	require.Equal(t, "new short", study.ShortDescription)
	require.Equal(t, []events.Event{events.StudyUpdated{StudyID: created.ID, Message: MessageDescriptionUpdated}}, bus.published())
}

func TestStudySettings(t *testing.T) {
	db := openServiceDB(t)
	svc := newStudyService(t, db, nil, newTestClock())
	manager := createAccount(t, db, "manager")
	createStudy(t, svc, manager, "settings")
	createStudy(t, svc, manager, "other")
	ctx := context.Background()

	image := "data:image/png;base64,AAAA"
	enabled := true
	study, err := svc.UpdateBanner(ctx, manager.ID, "settings", BannerInput{Image: &image, UseBanner: &enabled})
	require.NoError(t, err)
	require.Equal(t, image, study.BannerImage())
	require.True(t, study.UseBanner)

	_, err = svc.AddTag(ctx, manager.ID, "settings", "jpa")
	require.NoError(t, err)
	_, err = svc.AddZone(ctx, manager.ID, "settings", seoul)
	require.NoError(t, err)
	loaded, err := svc.Get(ctx, "settings", ProfileTagsAndZones)
	require.NoError(t, err)
	require.Len(t, loaded.Tags, 1)
	require.Len(t, loaded.Zones, 1)

	require.NoError(t, svc.RemoveTag(ctx, manager.ID, "settings", "jpa"))
	require.ErrorIs(t, svc.RemoveTag(ctx, manager.ID, "settings", "nope"), ErrTagNotFound)
	require.NoError(t, svc.RemoveZone(ctx, manager.ID, "settings", seoul))
	loaded, err = svc.Get(ctx, "settings", ProfileTagsAndZones)
	require.NoError(t, err)
	require.Empty(t, loaded.Tags)
	require.Empty(t, loaded.Zones)

	_, err = svc.UpdatePath(ctx, manager.ID, "settings", "other")
	require.ErrorIs(t, err, apperrors.ErrValidation)
	moved, err := svc.UpdatePath(ctx, manager.ID, "settings", "스터디")
	require.NoError(t, err)
	require.Equal(t, "/study/%EC%8A%A4%ED%84%B0%EB%94%94", moved.Link())

	renamed, err := svc.UpdateTitle(ctx, manager.ID, "스터디", "Renamed")
	require.NoError(t, err)
	require.Equal(t, "Renamed", renamed.Title)
}

func TestRemoveOnlyDrafts(t *testing.T) {
	db := openServiceDB(t)
	svc := newStudyService(t, db, nil, newTestClock())
	manager := createAccount(t, db, "manager")
	ctx := context.Background()

	draft := createStudy(t, svc, manager, "draft")
	_, err := svc.AddTag(ctx, manager.ID, "draft", "go")
	require.NoError(t, err)
	require.NoError(t, svc.Remove(ctx, manager.ID, "draft"))
	_, err = svc.Get(ctx, "draft", ProfileBare)
	require.ErrorIs(t, err, ErrStudyNotFound)

	var links int64
	require.NoError(t, db.Table("study_managers").Where("study_id = ?", draft.ID).Count(&links).Error)
	require.Zero(t, links)

	createStudy(t, svc, manager, "live")
	_, err = svc.Publish(ctx, manager.ID, "live")
	require.NoError(t, err)
	require.ErrorIs(t, svc.Remove(ctx, manager.ID, "live"), ErrStudyNotRemovable)
}

func TestJoinAndLeaveKeepMemberCount(t *testing.T) {
	db := openServiceDB(t)
	svc := newStudyService(t, db, nil, newTestClock())
	manager := createAccount(t, db, "manager")
	member := createAccount(t, db, "member")
	ctx := context.Background()

	createStudy(t, svc, manager, "closed-door")
	_, err := svc.Join(ctx, member.ID, "closed-door")
	require.ErrorIs(t, err, ErrStudyNotJoinable)

	publishedRecruitingStudy(t, svc, manager, "open-door")

	study, err := svc.Join(ctx, member.ID, "open-door")
	require.NoError(t, err)
	require.Equal(t, 1, study.MemberCount)
	require.True(t, study.IsMember(member.ID))

	_, err = svc.Join(ctx, member.ID, "open-door")
	require.ErrorIs(t, err, ErrAlreadyMember)
	_, err = svc.Join(ctx, manager.ID, "open-door")
	require.ErrorIs(t, err, ErrAlreadyMember)

	reloaded, err := svc.Get(ctx, "open-door", ProfileMembers)
	require.NoError(t, err)
	require.Equal(t, 1, reloaded.MemberCount)
	require.Len(t, reloaded.Members, reloaded.MemberCount)

	study, err = svc.Leave(ctx, member.ID, "open-door")
	require.NoError(t, err)
	require.Zero(t, study.MemberCount)

	_, err = svc.Leave(ctx, member.ID, "open-door")
	require.ErrorIs(t, err, ErrNotMember)
}

func TestConcurrentJoinsCountEveryMember(t *testing.T) {
	db := openServiceDB(t)
	svc := newStudyService(t, db, nil, newTestClock())
	manager := createAccount(t, db, "manager")
	publishedRecruitingStudy(t, svc, manager, "crowded")

	const joiners = 8
	accounts := make([]*models.Account, joiners)
	for i := range accounts {
		accounts[i] = createAccount(t, db, fmt.Sprintf("joiner%d", i))
	}

	var wg sync.WaitGroup
	errs := make(chan error, joiners)
	for _, account := range accounts {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := svc.Join(context.Background(), id, "crowded")
			errs <- err
		}(account.ID)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	study, err := svc.Get(context.Background(), "crowded", ProfileMembers)
	require.NoError(t, err)
	require.Equal(t, joiners, study.MemberCount)
	require.Len(t, study.Members, joiners)
}

func TestSearchMatchesTitleTagAndZone(t *testing.T) {
	db := openServiceDB(t)
	clock := newTestClock()
	svc := newStudyService(t, db, nil, clock)
	manager := createAccount(t, db, "manager")
	ctx := context.Background()

	publish := func(path, title string) {
		_, err := svc.Create(ctx, manager.ID, CreateStudyInput{Path: path, Title: title, ShortDescription: "s", FullDescription: "f"})
		require.NoError(t, err)
		_, err = svc.Publish(ctx, manager.ID, path)
		require.NoError(t, err)
		clock.Advance(time.Minute)
	}

	publish("by-title", "Spring Boot Study")
	publish("by-tag", "Weekend Study")
	_, err := svc.AddTag(ctx, manager.ID, "by-tag", "SpringCloud")
	require.NoError(t, err)
	publish("by-zone", "Seoul Meetup")
	_, err = svc.AddZone(ctx, manager.ID, "by-zone", busan)
	require.NoError(t, err)
	publish("unrelated", "Go Study")

	_, err = svc.Create(ctx, manager.ID, CreateStudyInput{Path: "draft", Title: "Spring Draft", ShortDescription: "s", FullDescription: "f"})
	require.NoError(t, err)

	result, err := svc.Search(ctx, SearchInput{Keyword: "spring"})
	require.NoError(t, err)
	require.EqualValues(t, 2, result.Total)
	require.Equal(t, "by-tag", result.Items[0].Path)
	require.Equal(t, "by-title", result.Items[1].Path)

	result, err = svc.Search(ctx, SearchInput{Keyword: "부산"})
	require.NoError(t, err)
	require.EqualValues(t, 1, result.Total)
	require.Equal(t, "by-zone", result.Items[0].Path)

	result, err = svc.Search(ctx, SearchInput{Keyword: "study", PageSize: 1, Page: 1})
	require.NoError(t, err)
	require.EqualValues(t, 3, result.Total)
	require.Len(t, result.Items, 1)
	require.Equal(t, 1, result.Page)
}

func TestSearchSortsByMemberCount(t *testing.T) {
	db := openServiceDB(t)
	clock := newTestClock()
	svc := newStudyService(t, db, nil, clock)
	manager := createAccount(t, db, "manager")
	member := createAccount(t, db, "member")
	ctx := context.Background()

	publishedRecruitingStudy(t, svc, manager, "popular")
	clock.Advance(time.Minute)
	publishedRecruitingStudy(t, svc, manager, "newest")
	_, err := svc.Join(ctx, member.ID, "popular")
	require.NoError(t, err)

	result, err := svc.Search(ctx, SearchInput{Keyword: "study", Sort: SortMemberCount})
	require.NoError(t, err)
	require.Equal(t, "popular", result.Items[0].Path)

	result, err = svc.Search(ctx, SearchInput{Keyword: "study"})
	require.NoError(t, err)
	require.Equal(t, "newest", result.Items[0].Path)
}

func TestFeeds(t *testing.T) {
	db := openServiceDB(t)
	clock := newTestClock()
	svc := newStudyService(t, db, nil, clock)
	manager := createAccount(t, db, "manager")
	reader := createAccount(t, db, "reader")
	followInterests(t, db, reader, []string{"go"}, []string{seoul})
	ctx := context.Background()

	publishedRecruitingStudy(t, svc, manager, "matching")
	_, err := svc.AddTag(ctx, manager.ID, "matching", "go")
	require.NoError(t, err)
	_, err = svc.AddZone(ctx, manager.ID, "matching", seoul)
	require.NoError(t, err)

	clock.Advance(time.Minute)
	publishedRecruitingStudy(t, svc, manager, "tag-only")
	_, err = svc.AddTag(ctx, manager.ID, "tag-only", "go")
	require.NoError(t, err)

	createStudy(t, svc, manager, "draft")

	recent, err := svc.RecentPublished(ctx)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	require.Equal(t, "tag-only", recent[0].Path)

	_, err = svc.Join(ctx, reader.ID, "tag-only")
	require.NoError(t, err)

	feed, err := svc.Feed(ctx, reader.ID)
	require.NoError(t, err)
	require.Len(t, feed.Interests, 1)
	require.Equal(t, "matching", feed.Interests[0].Path)
	require.Empty(t, feed.Managing)
	require.Len(t, feed.Joined, 1)
	require.Equal(t, "tag-only", feed.Joined[0].Path)

	managing, err := svc.ManagedBy(ctx, manager.ID)
	require.NoError(t, err)
	require.Len(t, managing, 3)
	require.Equal(t, "draft", managing[2].Path)
}

func TestSearchTreatsWildcardsLiterally(t *testing.T) {
	db := openServiceDB(t)
	clock := newTestClock()
	svc := newStudyService(t, db, nil, clock)
	manager := createAccount(t, db, "manager")
	ctx := context.Background()

	for path, title := range map[string]string{
		"percent":    "100% Go",
		"thousand":   "1000 Go",
		"underscore": "a_c study",
		"letters":    "abc study",
	} {
		_, err := svc.Create(ctx, manager.ID, CreateStudyInput{Path: path, Title: title, ShortDescription: "s", FullDescription: "f"})
		require.NoError(t, err)
		_, err = svc.Publish(ctx, manager.ID, path)
		require.NoError(t, err)
	}

	result, err := svc.Search(ctx, SearchInput{Keyword: "100%"})
	require.NoError(t, err)
	require.EqualValues(t, 1, result.Total)
	require.Equal(t, "percent", result.Items[0].Path)

	result, err = svc.Search(ctx, SearchInput{Keyword: "a_c"})
	require.NoError(t, err)
	require.EqualValues(t, 1, result.Total)
	require.Equal(t, "underscore", result.Items[0].Path)
}

func TestSearchCapsHugePage(t *testing.T) {
	db := openServiceDB(t)
	clock := newTestClock()
	svc := newStudyService(t, db, nil, clock)
	manager := createAccount(t, db, "manager")
	publishedRecruitingStudy(t, svc, manager, "only")

	result, err := svc.Search(context.Background(), SearchInput{Keyword: "study", Page: math.MaxInt})
	require.NoError(t, err)
	require.EqualValues(t, 1, result.Total)
	require.Empty(t, result.Items)
	require.Equal(t, maxSearchPage, result.Page)
}
