package events

// Event is a domain event carried by the Bus.
type Event interface {
	EventType() string
}

const (
	TypeStudyCreated = "study.created"
	TypeStudyUpdated = "study.updated"
)

// StudyCreated is raised once a study becomes visible to the public.
type StudyCreated struct {
	StudyID string
}

func (StudyCreated) EventType() string { return TypeStudyCreated }

// StudyUpdated is raised when managers change something members should hear about.
type StudyUpdated struct {
	StudyID string
	Message string
}

func (StudyUpdated) EventType() string { return TypeStudyUpdated }

const (
	TypeEnrollmentAccepted = "enrollment.accepted"
	TypeEnrollmentRejected = "enrollment.rejected"
)

// EnrollmentAccepted is raised when an enrollment gains a spot at its event.
type EnrollmentAccepted struct {
	EnrollmentID string
}

func (EnrollmentAccepted) EventType() string { return TypeEnrollmentAccepted }

// EnrollmentRejected is raised when a manager takes a spot back from an enrollment.
type EnrollmentRejected struct {
	EnrollmentID string
}

func (EnrollmentRejected) EventType() string { return TypeEnrollmentRejected }
