// Package store is the durable entity catalog: users, projects, courses,
// assignments, submissions, and the relationship sets between them.
package store

import "time"

type User struct {
	UserName     string
	PasswordHash string
	Email        string
}

// Project references its current head revision by content address. Owners and
// members live in relationship tables and are resolved per request.
type Project struct {
	ProjID     string
	HeadID     string
	SharedName string
	Public     bool
}

type Course struct {
	CourseID string
	Name     string
}

type Assignment struct {
	AssignID string
	CourseID string
	Name     string
}

// Submission snapshots a project head into a grading context. Immutable once
// created.
type Submission struct {
	SubmitID    string
	AssignID    string
	ProjID      string
	RevisionID  string
	Submitter   string
	Members     []string
	SubmittedAt time.Time
}
