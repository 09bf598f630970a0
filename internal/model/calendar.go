package model

import "time"

const ParticipantRoleSubstitute = "substituteTeacher"

type Participant struct {
	ParticipantRole string `json:"participantRole"`
	TeacherName     string `json:"teacherName,omitempty"`
	TeacherInitials string `json:"teacherInitials,omitempty"`
}

type Lesson struct {
	Participants []Participant `json:"participants"`
}

type PrimaryResource struct {
	Name string `json:"name"`
}

type CalendarEvent struct {
	Title             string           `json:"title"`
	Type              string           `json:"type"`
	StartDateTime     string           `json:"startDateTime"`
	EndDateTime       string           `json:"endDateTime"`
	BelongsToProfiles []FlexID         `json:"belongsToProfiles"`
	PrimaryResource   *PrimaryResource `json:"primaryResource,omitempty"`
	Lesson            *Lesson          `json:"lesson,omitempty"`
}

type FormattedEvent struct {
	Summary  string    `json:"summary"`
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
	Location string    `json:"location,omitempty"`
	Teacher  string    `json:"teacher,omitempty"`
}
