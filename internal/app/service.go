package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/marwahaha/snap-server/internal/access"
	"github.com/marwahaha/snap-server/internal/auth"
	"github.com/marwahaha/snap-server/internal/authpw"
	"github.com/marwahaha/snap-server/internal/config"
	"github.com/marwahaha/snap-server/internal/email"
	"github.com/marwahaha/snap-server/internal/revision"
	"github.com/marwahaha/snap-server/internal/search"
	"github.com/marwahaha/snap-server/internal/session"
	"github.com/marwahaha/snap-server/internal/store"
	"github.com/marwahaha/snap-server/internal/util"
)

// Session identifies the authenticated caller of a request.
type Session struct {
	UserName  string
	Token     string
	ExpiresAt time.Time
}

// ProjectView is the JSON shape of a project returned to clients. Payload is
// the head revision's bytes; listing endpoints leave it empty.
type ProjectView struct {
	ProjID     string   `json:"projId"`
	HeadID     string   `json:"headId,omitempty"`
	SharedName string   `json:"sharedName,omitempty"`
	Public     bool     `json:"public"`
	Owners     []string `json:"owners"`
	Members    []string `json:"members"`
	Payload    []byte   `json:"payload,omitempty"`
}

// RevisionView is the JSON shape of a stored revision.
type RevisionView struct {
	RevID   string `json:"revId"`
	PrevID  string `json:"prevId"`
	Payload []byte `json:"payload"`
}

// SubmissionView is the JSON shape of an assignment submission.
type SubmissionView struct {
	SubmitID   string   `json:"submitId"`
	ProjID     string   `json:"projId"`
	RevisionID string   `json:"revId"`
	Submitter  string   `json:"submitter"`
	Members    []string `json:"members"`
	Time       string   `json:"time"`
}

type dataStore interface {
	GetUser(context.Context, string) (store.User, error)
	UserExists(context.Context, string) (bool, error)
	CreateUser(context.Context, store.User) error
	UpdateUserPassword(context.Context, string, string) error

	InsertProject(context.Context, store.Project, string) error
	GetProject(context.Context, string) (store.Project, error)
	DeleteProject(context.Context, string) error
	UpdateProjectHead(context.Context, string, string, string) error
	SetProjectPublic(context.Context, string, bool, string) error
	ListProjectsForMember(context.Context, string) ([]store.Project, error)
	FindProjectsByName(context.Context, string, string) ([]store.Project, error)
	ListMembers(context.Context, string) ([]string, error)
	ListOwners(context.Context, string) ([]string, error)
	ProjectGraph(context.Context, string) (access.ProjectGraph, error)
	CourseRoster(context.Context, string) (access.CourseRoster, error)
	AddMember(context.Context, string, string, string) error
	RemoveMember(context.Context, string, string, string) error

	InsertCourse(context.Context, store.Course, string) error
	GetCourse(context.Context, string) (store.Course, error)
	ListCoursesTeaching(context.Context, string) ([]store.Course, error)
	ListCoursesEnrolled(context.Context, string) ([]store.Course, error)
	ListStudents(context.Context, string) ([]string, error)
	ListTeachers(context.Context, string) ([]string, error)
	AddStudent(context.Context, string, string, string) error
	RemoveStudent(context.Context, string, string, string) error
	AddTeacher(context.Context, string, string, string) error
	RemoveTeacher(context.Context, string, string, string) error

	ShareWithTeachers(context.Context, string, string, string) error
	UnshareWithTeachers(context.Context, string, string, string) error
	ShareWithStudents(context.Context, string, string, string) error
	UnshareWithStudents(context.Context, string, string, string) error

	InsertAssignment(context.Context, store.Assignment) error
	GetAssignment(context.Context, string) (store.Assignment, error)
	DeleteAssignment(context.Context, string) error
	ListAssignments(context.Context, string) ([]store.Assignment, error)
	InsertSubmission(context.Context, store.Submission) error
	ListSubmissions(context.Context, string) ([]store.Submission, error)

	Ping(context.Context) error
}

// SessionStore persists issued session tokens for lookup and revocation.
type SessionStore interface {
	SaveSession(ctx context.Context, tokenHash, userName string, expiresAt time.Time) error
	LookupSession(ctx context.Context, tokenHash string) (store.User, error)
	RevokeSession(ctx context.Context, tokenHash string) error
}

type credentialService interface {
	CreateUser(ctx context.Context, userName, password, email string) (string, error)
	Verify(ctx context.Context, userName, password string) (store.User, error)
	ChangePassword(ctx context.Context, userName, newPassword string) error
	ResetPassword(ctx context.Context, userName string) (store.User, string, error)
}

type mailer interface {
	IsConfigured() bool
	SendWelcomeEmail(to, userName, password string) error
	SendPasswordResetEmail(to, userName, password string) error
}

type Service struct {
	cfg       config.Config
	store     dataStore
	revisions revision.Store
	sessions  SessionStore
	creds     credentialService
	email     mailer
	search    *search.Service
}

func New(cfg config.Config, dataStore *store.PostgresStore, revisions revision.Store, sessions SessionStore, creds *authpw.Service, mail *email.Service, searchSvc *search.Service) *Service {
	return &Service{
		cfg:       cfg,
		store:     dataStore,
		revisions: revisions,
		sessions:  sessions,
		creds:     creds,
		email:     mail,
		search:    searchSvc,
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// ── Identity and sessions ──

// Authenticate verifies basic credentials and returns the caller's identity.
func (s *Service) Authenticate(ctx context.Context, userName, password string) (Session, error) {
	user, err := s.creds.Verify(ctx, userName, password)
	if errors.Is(err, authpw.ErrNoSuchUser) || errors.Is(err, authpw.ErrIncorrectPassword) {
		return Session{}, errIncorrectPassword()
	}
	if err != nil {
		return Session{}, err
	}
	return Session{UserName: user.UserName}, nil
}

// Login verifies credentials and issues a bearer session token.
func (s *Service) Login(ctx context.Context, userName, password string) (Session, error) {
	sess, err := s.Authenticate(ctx, userName, password)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, sess.UserName)
}

func (s *Service) issueSession(ctx context.Context, userName string) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.SessionTTL)

	token, err := auth.IssueToken([]byte(s.cfg.TokenSecret), auth.Claims{
		Sub: userName,
		JTI: util.NewID("jti"),
		Exp: expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.SaveSession(ctx, auth.HashToken(token), userName, expiresAt); err != nil {
		return Session{}, err
	}
	return Session{UserName: userName, Token: token, ExpiresAt: expiresAt}, nil
}

// SessionFromToken validates a bearer token and resolves it to a live session.
// A token that parses but has been revoked server-side is rejected.
func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.TokenSecret), token)
	if err != nil {
		return Session{}, err
	}
	user, err := s.sessions.LookupSession(ctx, auth.HashToken(token))
	if errors.Is(err, session.ErrNotFound) || errors.Is(err, sql.ErrNoRows) {
		return Session{}, auth.ErrInvalidToken
	}
	if err != nil {
		return Session{}, err
	}
	if user.UserName != claims.Sub {
		return Session{}, auth.ErrInvalidToken
	}
	return Session{UserName: user.UserName, Token: token, ExpiresAt: time.Unix(claims.Exp, 0)}, nil
}

// Logout revokes the session behind the given token.
func (s *Service) Logout(ctx context.Context, token string) error {
	return s.sessions.RevokeSession(ctx, auth.HashToken(token))
}

// CreateUser registers a new account. When only an email is given, a password
// is generated and mailed; the plaintext is also echoed in the response so
// clients without email access still work.
func (s *Service) CreateUser(ctx context.Context, userName, password, emailAddr string) (map[string]any, error) {
	generated := password == "" && emailAddr != ""
	actual, err := s.creds.CreateUser(ctx, userName, password, emailAddr)
	if errors.Is(err, authpw.ErrInvalidUsername) {
		return nil, errUserLogicError(fmt.Sprintf("%q is not a valid username", userName))
	}
	if errors.Is(err, authpw.ErrUserExists) {
		return nil, errUserLogicError(fmt.Sprintf("%q is already in use", userName))
	}
	if err != nil {
		return nil, err
	}

	if generated && s.email.IsConfigured() {
		if err := s.email.SendWelcomeEmail(emailAddr, userName, actual); err != nil {
			return nil, fmt.Errorf("send welcome email: %w", err)
		}
	}

	result := map[string]any{"userName": userName}
	if emailAddr != "" {
		result["email"] = emailAddr
	}
	if generated {
		result["password"] = actual
	}
	return result, nil
}

// ChangePassword sets a new password for the authenticated user.
func (s *Service) ChangePassword(ctx context.Context, sess Session, newPassword string) error {
	if newPassword == "" {
		return errMissingParameter("newPassword")
	}
	if err := s.creds.ChangePassword(ctx, sess.UserName, newPassword); err != nil {
		if errors.Is(err, authpw.ErrNoSuchUser) {
			return errNoSuchUser()
		}
		return err
	}
	return nil
}

// ResetPassword generates a new password for the named user and mails it.
// Does not require authentication; only users with an email on file qualify.
func (s *Service) ResetPassword(ctx context.Context, userName string) error {
	user, password, err := s.creds.ResetPassword(ctx, userName)
	if errors.Is(err, authpw.ErrNoSuchUser) {
		return errNoSuchUser()
	}
	if errors.Is(err, authpw.ErrNoEmail) {
		return errUserLogicError("Cannot reset password without email")
	}
	if err != nil {
		return err
	}
	if s.email.IsConfigured() {
		if err := s.email.SendPasswordResetEmail(user.Email, user.UserName, password); err != nil {
			return fmt.Errorf("send reset email: %w", err)
		}
	}
	return nil
}

// ── Projects and revisions ──

// CreateProject creates an empty project owned by the caller.
func (s *Service) CreateProject(ctx context.Context, sess Session) (string, error) {
	projID := util.NewHashID()
	if err := s.store.InsertProject(ctx, store.Project{ProjID: projID}, sess.UserName); err != nil {
		return "", err
	}
	return projID, nil
}

// UncreateProject deletes a project. Owners only. Revisions are never
// collected, so the chain stays loadable by id.
func (s *Service) UncreateProject(ctx context.Context, sess Session, projID string) error {
	graph, err := s.projectGraph(ctx, projID)
	if err != nil {
		return err
	}
	if !graph.Owners.Has(sess.UserName) {
		return errNotAuthorized()
	}
	if err := s.store.DeleteProject(ctx, projID); err != nil {
		return err
	}
	if s.search != nil {
		s.search.DeleteProject(projID)
	}
	return nil
}

// SaveProject appends a snapshot to the project's revision chain and advances
// the head pointer. Saving identical content onto the same head is idempotent.
// Concurrent saves race on the head and the last committed update wins.
func (s *Service) SaveProject(ctx context.Context, sess Session, projID, sharedName string, payload []byte) (string, bool, error) {
	project, err := s.store.GetProject(ctx, projID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, errNoSuchProject()
	}
	if err != nil {
		return "", false, err
	}
	graph, err := s.store.ProjectGraph(ctx, projID)
	if err != nil {
		return "", false, err
	}
	if !access.CanWrite(sess.UserName, graph) {
		return "", false, errNotAuthorized()
	}

	prevID := revision.RootID
	if project.HeadID != "" {
		prevID = project.HeadID
	}
	rev, created, err := s.revisions.GetOrCreate(ctx, prevID, payload)
	if err != nil {
		return "", false, err
	}
	if err := s.store.UpdateProjectHead(ctx, projID, rev.ID, sharedName); err != nil {
		return "", false, err
	}

	if s.search != nil {
		name := sharedName
		if name == "" {
			name = project.SharedName
		}
		if name != "" {
			owner := ""
			if owners := graph.Owners.Sorted(); len(owners) > 0 {
				owner = owners[0]
			}
			s.search.IndexProject(search.ProjectRecord{
				ProjID:     projID,
				SharedName: name,
				Owner:      owner,
				Public:     project.Public,
			})
		}
	}
	return rev.ID, created, nil
}

// LoadProject returns the project view with its head revision's content. A
// project that has never been saved has no head and cannot be loaded.
func (s *Service) LoadProject(ctx context.Context, sess Session, projID string) (ProjectView, error) {
	project, err := s.store.GetProject(ctx, projID)
	if errors.Is(err, sql.ErrNoRows) {
		return ProjectView{}, errNoSuchProject()
	}
	if err != nil {
		return ProjectView{}, err
	}
	graph, err := s.store.ProjectGraph(ctx, projID)
	if err != nil {
		return ProjectView{}, err
	}
	if !access.CanRead(sess.UserName, graph) {
		return ProjectView{}, errNotAuthorized()
	}
	if project.HeadID == "" {
		return ProjectView{}, errNoSuchRevision()
	}
	payload, err := s.revisions.Load(ctx, project.HeadID)
	if errors.Is(err, revision.ErrNotFound) {
		return ProjectView{}, errNoSuchRevision()
	}
	if err != nil {
		return ProjectView{}, err
	}
	return ProjectView{
		ProjID:     project.ProjID,
		HeadID:     project.HeadID,
		SharedName: project.SharedName,
		Public:     project.Public,
		Owners:     graph.Owners.Sorted(),
		Members:    graph.Members.Sorted(),
		Payload:    payload,
	}, nil
}

// GetRevision loads a single revision by id. The revision's own bytes and
// predecessor link are enough; ancestry beyond that is not consulted, so an
// existing revision stays loadable even if an older link has gone missing.
func (s *Service) GetRevision(ctx context.Context, sess Session, revID string) (RevisionView, error) {
	if !revision.ValidID(revID) {
		return RevisionView{}, errNoSuchRevision()
	}
	rev, err := s.revisions.Get(ctx, revID)
	if errors.Is(err, revision.ErrNotFound) {
		return RevisionView{}, errNoSuchRevision()
	}
	if errors.Is(err, revision.ErrCorruptChain) {
		return RevisionView{}, errCorruptChain(revID)
	}
	if err != nil {
		return RevisionView{}, err
	}
	return RevisionView{RevID: rev.ID, PrevID: rev.PrevID, Payload: rev.Payload}, nil
}

// GetRevisionChain walks a project's history from its head back to the root.
func (s *Service) GetRevisionChain(ctx context.Context, sess Session, projID string) ([]RevisionView, error) {
	project, err := s.store.GetProject(ctx, projID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errNoSuchProject()
	}
	if err != nil {
		return nil, err
	}
	graph, err := s.store.ProjectGraph(ctx, projID)
	if err != nil {
		return nil, err
	}
	if !access.CanRead(sess.UserName, graph) {
		return nil, errNotAuthorized()
	}
	if project.HeadID == "" {
		return []RevisionView{}, nil
	}

	chain, err := s.revisions.LoadChain(ctx, project.HeadID)
	if errors.Is(err, revision.ErrNotFound) {
		return nil, errNoSuchRevision()
	}
	if errors.Is(err, revision.ErrCorruptChain) {
		return nil, errCorruptChain(project.HeadID)
	}
	if err != nil {
		return nil, err
	}

	views := make([]RevisionView, 0, len(chain))
	for _, rev := range chain {
		views = append(views, RevisionView{RevID: rev.ID, PrevID: rev.PrevID, Payload: rev.Payload})
	}
	return views, nil
}

// ListProjects lists the projects the caller is a member of.
func (s *Service) ListProjects(ctx context.Context, sess Session) ([]ProjectView, error) {
	projects, err := s.store.ListProjectsForMember(ctx, sess.UserName)
	if err != nil {
		return nil, err
	}
	return s.projectViews(ctx, projects)
}

// GetProjectByName finds the named user's projects with the given shared name.
func (s *Service) GetProjectByName(ctx context.Context, userName, projectName string) ([]ProjectView, error) {
	if err := s.requireUser(ctx, userName); err != nil {
		return nil, err
	}
	projects, err := s.store.FindProjectsByName(ctx, userName, projectName)
	if err != nil {
		return nil, err
	}
	return s.projectViews(ctx, projects)
}

func (s *Service) projectViews(ctx context.Context, projects []store.Project) ([]ProjectView, error) {
	views := make([]ProjectView, 0, len(projects))
	for _, project := range projects {
		owners, err := s.store.ListOwners(ctx, project.ProjID)
		if err != nil {
			return nil, err
		}
		members, err := s.store.ListMembers(ctx, project.ProjID)
		if err != nil {
			return nil, err
		}
		views = append(views, ProjectView{
			ProjID:     project.ProjID,
			HeadID:     project.HeadID,
			SharedName: project.SharedName,
			Public:     project.Public,
			Owners:     owners,
			Members:    members,
		})
	}
	return views, nil
}

// ListProjectMembers lists a project's members. Readable to anyone who can
// read the project.
func (s *Service) ListProjectMembers(ctx context.Context, sess Session, projID string) ([]string, error) {
	graph, err := s.projectGraph(ctx, projID)
	if err != nil {
		return nil, err
	}
	if !access.CanRead(sess.UserName, graph) {
		return nil, errNotAuthorized()
	}
	return graph.Members.Sorted(), nil
}

// SearchProjects fuzzy-matches shared project names.
func (s *Service) SearchProjects(ctx context.Context, query string, limit, offset int) (search.Response, error) {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: query}, nil
	}
	return s.search.Search(search.Query{Text: query, Limit: limit, Offset: offset}), nil
}

// ── Project sharing ──

// ShareProject adds a user to the project's member set.
func (s *Service) ShareProject(ctx context.Context, sess Session, projID, userName string) error {
	graph, err := s.projectGraph(ctx, projID)
	if err != nil {
		return err
	}
	if !access.CanWrite(sess.UserName, graph) {
		return errNotAuthorized()
	}
	if err := s.requireUser(ctx, userName); err != nil {
		return err
	}
	if err := s.store.AddMember(ctx, projID, userName, sess.UserName); err != nil {
		return mapGraphMutation(err)
	}
	return nil
}

// mapGraphMutation translates a precondition failure re-checked inside the
// store's transaction into the caller-facing error. The service checks the
// same conditions up front against a snapshot of the graph; the store's check
// is the one that holds under concurrent mutations.
func mapGraphMutation(err error) error {
	if errors.Is(err, store.ErrNotAllowed) {
		return errNotAuthorized()
	}
	return err
}

// UnshareProject removes a member. Owners cannot be removed this way.
func (s *Service) UnshareProject(ctx context.Context, sess Session, projID, userName string) error {
	graph, err := s.projectGraph(ctx, projID)
	if err != nil {
		return err
	}
	if !access.CanWrite(sess.UserName, graph) {
		return errNotAuthorized()
	}
	if graph.Owners.Has(userName) {
		return errNotAuthorized()
	}
	if err := s.store.RemoveMember(ctx, projID, userName, sess.UserName); err != nil {
		if errors.Is(err, store.ErrAbsent) {
			return errUserLogicError("User is not a member of this project")
		}
		return mapGraphMutation(err)
	}
	return nil
}

// MakePublic marks the project as publicly listed.
func (s *Service) MakePublic(ctx context.Context, sess Session, projID string) error {
	return s.setPublic(ctx, sess, projID, true)
}

// UnmakePublic removes the public listing.
func (s *Service) UnmakePublic(ctx context.Context, sess Session, projID string) error {
	return s.setPublic(ctx, sess, projID, false)
}

func (s *Service) setPublic(ctx context.Context, sess Session, projID string, public bool) error {
	graph, err := s.projectGraph(ctx, projID)
	if err != nil {
		return err
	}
	if !access.CanWrite(sess.UserName, graph) {
		return errNotAuthorized()
	}
	return mapGraphMutation(s.store.SetProjectPublic(ctx, projID, public, sess.UserName))
}

// ShareProjectWithTeachers shares a project with the teachers of a course.
// The caller must be able to write the project and belong to the course.
func (s *Service) ShareProjectWithTeachers(ctx context.Context, sess Session, projID, courseID string) error {
	graph, err := s.projectGraph(ctx, projID)
	if err != nil {
		return err
	}
	if !access.CanWrite(sess.UserName, graph) {
		return errNotAuthorized()
	}
	roster, err := s.courseRoster(ctx, courseID)
	if err != nil {
		return err
	}
	if !roster.Students.Has(sess.UserName) && !roster.Teachers.Has(sess.UserName) {
		return errNotAuthorized()
	}
	return mapGraphMutation(s.store.ShareWithTeachers(ctx, courseID, projID, sess.UserName))
}

// UnshareProjectWithTeachers removes a teacher-sharing edge.
func (s *Service) UnshareProjectWithTeachers(ctx context.Context, sess Session, projID, courseID string) error {
	graph, err := s.projectGraph(ctx, projID)
	if err != nil {
		return err
	}
	if !access.CanWrite(sess.UserName, graph) {
		return errNotAuthorized()
	}
	if _, err := s.courseRoster(ctx, courseID); err != nil {
		return err
	}
	if err := s.store.UnshareWithTeachers(ctx, courseID, projID, sess.UserName); err != nil {
		if errors.Is(err, store.ErrAbsent) {
			return errUserLogicError("Project not shared with teachers of this course")
		}
		return mapGraphMutation(err)
	}
	return nil
}

// ShareProjectWithStudents shares a project with everyone in a course. Only a
// teacher of the course may do this.
func (s *Service) ShareProjectWithStudents(ctx context.Context, sess Session, projID, courseID string) error {
	graph, err := s.projectGraph(ctx, projID)
	if err != nil {
		return err
	}
	if !access.CanWrite(sess.UserName, graph) {
		return errNotAuthorized()
	}
	roster, err := s.courseRoster(ctx, courseID)
	if err != nil {
		return err
	}
	if !access.CanManageCourse(sess.UserName, roster) {
		return errNotAuthorized()
	}
	return mapGraphMutation(s.store.ShareWithStudents(ctx, courseID, projID, sess.UserName))
}

// UnshareProjectWithStudents removes a student-sharing edge.
func (s *Service) UnshareProjectWithStudents(ctx context.Context, sess Session, projID, courseID string) error {
	graph, err := s.projectGraph(ctx, projID)
	if err != nil {
		return err
	}
	if !access.CanWrite(sess.UserName, graph) {
		return errNotAuthorized()
	}
	if _, err := s.courseRoster(ctx, courseID); err != nil {
		return err
	}
	if err := s.store.UnshareWithStudents(ctx, courseID, projID, sess.UserName); err != nil {
		if errors.Is(err, store.ErrAbsent) {
			return errUserLogicError("Project not shared with students of this course")
		}
		return mapGraphMutation(err)
	}
	return nil
}

// ── Courses ──

// CreateCourse creates a course with the caller as its sole teacher.
func (s *Service) CreateCourse(ctx context.Context, sess Session, name string) (string, error) {
	courseID := util.NewHashID()
	if err := s.store.InsertCourse(ctx, store.Course{CourseID: courseID, Name: name}, sess.UserName); err != nil {
		return "", err
	}
	return courseID, nil
}

// Enroll adds the caller to a course's student roster.
func (s *Service) Enroll(ctx context.Context, sess Session, courseID string) error {
	if _, err := s.courseRoster(ctx, courseID); err != nil {
		return err
	}
	return mapGraphMutation(s.store.AddStudent(ctx, courseID, sess.UserName, sess.UserName))
}

// Unenroll removes the caller from a course's student roster.
func (s *Service) Unenroll(ctx context.Context, sess Session, courseID string) error {
	if _, err := s.courseRoster(ctx, courseID); err != nil {
		return err
	}
	if err := s.store.RemoveStudent(ctx, courseID, sess.UserName, sess.UserName); err != nil {
		if errors.Is(err, store.ErrAbsent) {
			return errUserLogicError("User is not taking this course")
		}
		return mapGraphMutation(err)
	}
	return nil
}

// AddStudent enrolls a named user. Teachers only.
func (s *Service) AddStudent(ctx context.Context, sess Session, courseID, userName string) error {
	if err := s.requireTeacher(ctx, sess, courseID); err != nil {
		return err
	}
	if err := s.requireUser(ctx, userName); err != nil {
		return err
	}
	return mapGraphMutation(s.store.AddStudent(ctx, courseID, userName, sess.UserName))
}

// RemoveStudent drops a named user from the roster. Teachers only.
func (s *Service) RemoveStudent(ctx context.Context, sess Session, courseID, userName string) error {
	if err := s.requireTeacher(ctx, sess, courseID); err != nil {
		return err
	}
	if err := s.store.RemoveStudent(ctx, courseID, userName, sess.UserName); err != nil {
		if errors.Is(err, store.ErrAbsent) {
			return errUserLogicError("User is not taking this course")
		}
		return mapGraphMutation(err)
	}
	return nil
}

// AddTeacher adds a named user to the teacher set. Teachers only.
func (s *Service) AddTeacher(ctx context.Context, sess Session, courseID, userName string) error {
	if err := s.requireTeacher(ctx, sess, courseID); err != nil {
		return err
	}
	if err := s.requireUser(ctx, userName); err != nil {
		return err
	}
	return mapGraphMutation(s.store.AddTeacher(ctx, courseID, userName, sess.UserName))
}

// RemoveTeacher removes a teacher. A course must always retain at least one
// teacher, so removing the last one is rejected.
func (s *Service) RemoveTeacher(ctx context.Context, sess Session, courseID, userName string) error {
	if err := s.requireTeacher(ctx, sess, courseID); err != nil {
		return err
	}
	if err := s.store.RemoveTeacher(ctx, courseID, userName, sess.UserName); err != nil {
		if errors.Is(err, store.ErrLastTeacher) {
			return errNotPermitted("Cannot remove the last teacher of a course")
		}
		if errors.Is(err, store.ErrAbsent) {
			return errUserLogicError("User is not teaching this course")
		}
		return mapGraphMutation(err)
	}
	return nil
}

// ListStudents lists a course's roster. Teachers only.
func (s *Service) ListStudents(ctx context.Context, sess Session, courseID string) ([]string, error) {
	if err := s.requireTeacher(ctx, sess, courseID); err != nil {
		return nil, err
	}
	return s.store.ListStudents(ctx, courseID)
}

// ListTeachers lists a course's teachers.
func (s *Service) ListTeachers(ctx context.Context, courseID string) ([]string, error) {
	if _, err := s.courseRoster(ctx, courseID); err != nil {
		return nil, err
	}
	return s.store.ListTeachers(ctx, courseID)
}

// ListCoursesEnrolled lists the courses the caller is taking.
func (s *Service) ListCoursesEnrolled(ctx context.Context, sess Session) ([]store.Course, error) {
	return s.store.ListCoursesEnrolled(ctx, sess.UserName)
}

// ListCoursesTeaching lists the courses a named user teaches.
func (s *Service) ListCoursesTeaching(ctx context.Context, userName string) ([]store.Course, error) {
	if err := s.requireUser(ctx, userName); err != nil {
		return nil, err
	}
	return s.store.ListCoursesTeaching(ctx, userName)
}

// ── Assignments and submissions ──

// CreateAssignment adds an assignment to a course. Teachers only.
func (s *Service) CreateAssignment(ctx context.Context, sess Session, courseID, name string) (string, error) {
	if err := s.requireTeacher(ctx, sess, courseID); err != nil {
		return "", err
	}
	assignID := util.NewHashID()
	if err := s.store.InsertAssignment(ctx, store.Assignment{
		AssignID: assignID,
		CourseID: courseID,
		Name:     name,
	}); err != nil {
		return "", err
	}
	return assignID, nil
}

// UncreateAssignment deletes an assignment. Teachers of its course only.
func (s *Service) UncreateAssignment(ctx context.Context, sess Session, assignID string) error {
	assignment, err := s.requireAssignment(ctx, assignID)
	if err != nil {
		return err
	}
	if err := s.requireTeacher(ctx, sess, assignment.CourseID); err != nil {
		return err
	}
	return s.store.DeleteAssignment(ctx, assignID)
}

// ListAssignments lists a course's assignments.
func (s *Service) ListAssignments(ctx context.Context, courseID string) ([]store.Assignment, error) {
	if _, err := s.courseRoster(ctx, courseID); err != nil {
		return nil, err
	}
	return s.store.ListAssignments(ctx, courseID)
}

// SubmitProject snapshots a project's head against an assignment. The caller
// must be a member of the project and a student of the assignment's course.
// The snapshot (revision id + member list + timestamp) is immutable.
func (s *Service) SubmitProject(ctx context.Context, sess Session, assignID, projID string) (string, error) {
	assignment, err := s.requireAssignment(ctx, assignID)
	if err != nil {
		return "", err
	}
	project, err := s.store.GetProject(ctx, projID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", errNoSuchProject()
	}
	if err != nil {
		return "", err
	}
	graph, err := s.store.ProjectGraph(ctx, projID)
	if err != nil {
		return "", err
	}
	if !access.CanWrite(sess.UserName, graph) {
		return "", errNotAuthorized()
	}
	roster, err := s.courseRoster(ctx, assignment.CourseID)
	if err != nil {
		return "", err
	}
	if !roster.Students.Has(sess.UserName) {
		return "", errUserLogicError("User not enrolled in the course for this assignment")
	}
	if project.HeadID == "" {
		return "", errUserLogicError("Project has no revisions to submit")
	}

	submitID := util.NewHashID()
	if err := s.store.InsertSubmission(ctx, store.Submission{
		SubmitID:    submitID,
		AssignID:    assignID,
		ProjID:      projID,
		RevisionID:  project.HeadID,
		Submitter:   sess.UserName,
		Members:     graph.Members.Sorted(),
		SubmittedAt: time.Now().UTC(),
	}); err != nil {
		return "", err
	}
	return submitID, nil
}

// ListSubmissions lists an assignment's submissions. Teachers of the course only.
func (s *Service) ListSubmissions(ctx context.Context, sess Session, assignID string) ([]SubmissionView, error) {
	assignment, err := s.requireAssignment(ctx, assignID)
	if err != nil {
		return nil, err
	}
	if err := s.requireTeacher(ctx, sess, assignment.CourseID); err != nil {
		return nil, err
	}
	submissions, err := s.store.ListSubmissions(ctx, assignID)
	if err != nil {
		return nil, err
	}
	views := make([]SubmissionView, 0, len(submissions))
	for _, sub := range submissions {
		views = append(views, SubmissionView{
			SubmitID:   sub.SubmitID,
			ProjID:     sub.ProjID,
			RevisionID: sub.RevisionID,
			Submitter:  sub.Submitter,
			Members:    sub.Members,
			Time:       sub.SubmittedAt.Format(time.RFC3339),
		})
	}
	return views, nil
}

// ── Lookup helpers ──

func (s *Service) projectGraph(ctx context.Context, projID string) (access.ProjectGraph, error) {
	if _, err := s.store.GetProject(ctx, projID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return access.ProjectGraph{}, errNoSuchProject()
		}
		return access.ProjectGraph{}, err
	}
	return s.store.ProjectGraph(ctx, projID)
}

func (s *Service) courseRoster(ctx context.Context, courseID string) (access.CourseRoster, error) {
	if _, err := s.store.GetCourse(ctx, courseID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return access.CourseRoster{}, errNoSuchCourse()
		}
		return access.CourseRoster{}, err
	}
	return s.store.CourseRoster(ctx, courseID)
}

func (s *Service) requireTeacher(ctx context.Context, sess Session, courseID string) error {
	roster, err := s.courseRoster(ctx, courseID)
	if err != nil {
		return err
	}
	if !access.CanManageCourse(sess.UserName, roster) {
		return errNotAuthorized()
	}
	return nil
}

func (s *Service) requireUser(ctx context.Context, userName string) error {
	exists, err := s.store.UserExists(ctx, userName)
	if err != nil {
		return err
	}
	if !exists {
		return errNoSuchUser()
	}
	return nil
}

func (s *Service) requireAssignment(ctx context.Context, assignID string) (store.Assignment, error) {
	assignment, err := s.store.GetAssignment(ctx, assignID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Assignment{}, errNoSuchAssignment()
	}
	if err != nil {
		return store.Assignment{}, err
	}
	return assignment, nil
}
