package app

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/marwahaha/snap-server/internal/access"
	"github.com/marwahaha/snap-server/internal/auth"
	"github.com/marwahaha/snap-server/internal/authpw"
	"github.com/marwahaha/snap-server/internal/config"
	"github.com/marwahaha/snap-server/internal/email"
	"github.com/marwahaha/snap-server/internal/revision"
	"github.com/marwahaha/snap-server/internal/session"
	"github.com/marwahaha/snap-server/internal/store"
)

type fakeStore struct {
	getUserFn            func(context.Context, string) (store.User, error)
	userExistsFn         func(context.Context, string) (bool, error)
	createUserFn         func(context.Context, store.User) error
	updateUserPasswordFn func(context.Context, string, string) error
	getProjectFn         func(context.Context, string) (store.Project, error)
	updateProjectHeadFn  func(context.Context, string, string, string) error
	projectGraphFn       func(context.Context, string) (access.ProjectGraph, error)
	getCourseFn          func(context.Context, string) (store.Course, error)
	courseRosterFn       func(context.Context, string) (access.CourseRoster, error)
	addMemberFn          func(context.Context, string, string, string) error
	removeMemberFn       func(context.Context, string, string, string) error
	removeTeacherFn      func(context.Context, string, string, string) error
	removeStudentFn      func(context.Context, string, string, string) error
	getAssignmentFn      func(context.Context, string) (store.Assignment, error)
	insertSubmissionFn   func(context.Context, store.Submission) error
}

func (f *fakeStore) GetUser(ctx context.Context, userName string) (store.User, error) {
	if f.getUserFn != nil {
		return f.getUserFn(ctx, userName)
	}
	return store.User{}, sql.ErrNoRows
}
func (f *fakeStore) UserExists(ctx context.Context, userName string) (bool, error) {
	if f.userExistsFn != nil {
		return f.userExistsFn(ctx, userName)
	}
	return true, nil
}
func (f *fakeStore) CreateUser(ctx context.Context, user store.User) error {
	if f.createUserFn != nil {
		return f.createUserFn(ctx, user)
	}
	return nil
}
func (f *fakeStore) UpdateUserPassword(ctx context.Context, userName, hash string) error {
	if f.updateUserPasswordFn != nil {
		return f.updateUserPasswordFn(ctx, userName, hash)
	}
	return nil
}
func (f *fakeStore) InsertProject(context.Context, store.Project, string) error { return nil }
func (f *fakeStore) GetProject(ctx context.Context, projID string) (store.Project, error) {
	if f.getProjectFn != nil {
		return f.getProjectFn(ctx, projID)
	}
	return store.Project{}, sql.ErrNoRows
}
func (f *fakeStore) DeleteProject(context.Context, string) error { return nil }
func (f *fakeStore) UpdateProjectHead(ctx context.Context, projID, headID, sharedName string) error {
	if f.updateProjectHeadFn != nil {
		return f.updateProjectHeadFn(ctx, projID, headID, sharedName)
	}
	return nil
}
func (f *fakeStore) SetProjectPublic(context.Context, string, bool, string) error { return nil }
func (f *fakeStore) ListProjectsForMember(context.Context, string) ([]store.Project, error) {
	return nil, nil
}
func (f *fakeStore) FindProjectsByName(context.Context, string, string) ([]store.Project, error) {
	return nil, nil
}
func (f *fakeStore) ListMembers(context.Context, string) ([]string, error) { return nil, nil }
func (f *fakeStore) ListOwners(context.Context, string) ([]string, error)  { return nil, nil }
func (f *fakeStore) ProjectGraph(ctx context.Context, projID string) (access.ProjectGraph, error) {
	if f.projectGraphFn != nil {
		return f.projectGraphFn(ctx, projID)
	}
	return access.ProjectGraph{}, nil
}
func (f *fakeStore) CourseRoster(ctx context.Context, courseID string) (access.CourseRoster, error) {
	if f.courseRosterFn != nil {
		return f.courseRosterFn(ctx, courseID)
	}
	return access.CourseRoster{}, nil
}
func (f *fakeStore) AddMember(ctx context.Context, projID, userName, actor string) error {
	if f.addMemberFn != nil {
		return f.addMemberFn(ctx, projID, userName, actor)
	}
	return nil
}
func (f *fakeStore) RemoveMember(ctx context.Context, projID, userName, actor string) error {
	if f.removeMemberFn != nil {
		return f.removeMemberFn(ctx, projID, userName, actor)
	}
	return nil
}
func (f *fakeStore) InsertCourse(context.Context, store.Course, string) error { return nil }
func (f *fakeStore) GetCourse(ctx context.Context, courseID string) (store.Course, error) {
	if f.getCourseFn != nil {
		return f.getCourseFn(ctx, courseID)
	}
	return store.Course{CourseID: courseID}, nil
}
func (f *fakeStore) ListCoursesTeaching(context.Context, string) ([]store.Course, error) {
	return nil, nil
}
func (f *fakeStore) ListCoursesEnrolled(context.Context, string) ([]store.Course, error) {
	return nil, nil
}
func (f *fakeStore) ListStudents(context.Context, string) ([]string, error) { return nil, nil }
func (f *fakeStore) ListTeachers(context.Context, string) ([]string, error) { return nil, nil }
func (f *fakeStore) AddStudent(context.Context, string, string, string) error { return nil }
func (f *fakeStore) RemoveStudent(ctx context.Context, courseID, userName, actor string) error {
	if f.removeStudentFn != nil {
		return f.removeStudentFn(ctx, courseID, userName, actor)
	}
	return nil
}
func (f *fakeStore) AddTeacher(context.Context, string, string, string) error { return nil }
func (f *fakeStore) RemoveTeacher(ctx context.Context, courseID, userName, actor string) error {
	if f.removeTeacherFn != nil {
		return f.removeTeacherFn(ctx, courseID, userName, actor)
	}
	return nil
}
func (f *fakeStore) ShareWithTeachers(context.Context, string, string, string) error   { return nil }
func (f *fakeStore) UnshareWithTeachers(context.Context, string, string, string) error { return nil }
func (f *fakeStore) ShareWithStudents(context.Context, string, string, string) error   { return nil }
func (f *fakeStore) UnshareWithStudents(context.Context, string, string, string) error { return nil }
func (f *fakeStore) InsertAssignment(context.Context, store.Assignment) error  { return nil }
func (f *fakeStore) GetAssignment(ctx context.Context, assignID string) (store.Assignment, error) {
	if f.getAssignmentFn != nil {
		return f.getAssignmentFn(ctx, assignID)
	}
	return store.Assignment{}, sql.ErrNoRows
}
func (f *fakeStore) DeleteAssignment(context.Context, string) error { return nil }
func (f *fakeStore) ListAssignments(context.Context, string) ([]store.Assignment, error) {
	return nil, nil
}
func (f *fakeStore) InsertSubmission(ctx context.Context, sub store.Submission) error {
	if f.insertSubmissionFn != nil {
		return f.insertSubmissionFn(ctx, sub)
	}
	return nil
}
func (f *fakeStore) ListSubmissions(context.Context, string) ([]store.Submission, error) {
	return nil, nil
}
func (f *fakeStore) Ping(context.Context) error { return nil }

type fakeSessions struct {
	saved map[string]store.User
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{saved: make(map[string]store.User)}
}

func (f *fakeSessions) SaveSession(ctx context.Context, tokenHash, userName string, expiresAt time.Time) error {
	f.saved[tokenHash] = store.User{UserName: userName}
	return nil
}
func (f *fakeSessions) LookupSession(ctx context.Context, tokenHash string) (store.User, error) {
	user, ok := f.saved[tokenHash]
	if !ok {
		return store.User{}, session.ErrNotFound
	}
	return user, nil
}
func (f *fakeSessions) RevokeSession(ctx context.Context, tokenHash string) error {
	delete(f.saved, tokenHash)
	return nil
}

func newTestService(t *testing.T, fake *fakeStore) *Service {
	t.Helper()
	revisions, err := revision.NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSStore failed: %v", err)
	}
	return &Service{
		cfg: config.Config{
			TokenSecret: "test-secret",
			SessionTTL:  time.Hour,
		},
		store:     fake,
		revisions: revisions,
		sessions:  newFakeSessions(),
		creds:     authpw.NewService(fake),
		email:     email.NewService(email.Config{}),
	}
}

func domainCode(t *testing.T, err error) string {
	t.Helper()
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		t.Fatalf("expected a DomainError, got %v", err)
	}
	return domainErr.Code
}

func memberGraph(owner string, members ...string) access.ProjectGraph {
	return access.ProjectGraph{
		Owners:  access.NewSet(owner),
		Members: access.NewSet(append([]string{owner}, members...)...),
	}
}

func TestSaveProjectAppendsChain(t *testing.T) {
	head := ""
	fake := &fakeStore{
		getProjectFn: func(ctx context.Context, projID string) (store.Project, error) {
			return store.Project{ProjID: projID, HeadID: head}, nil
		},
		projectGraphFn: func(ctx context.Context, projID string) (access.ProjectGraph, error) {
			return memberGraph("alice"), nil
		},
		updateProjectHeadFn: func(ctx context.Context, projID, headID, sharedName string) error {
			head = headID
			return nil
		},
	}
	svc := newTestService(t, fake)
	ctx := context.Background()
	sess := Session{UserName: "alice"}

	first, created, err := svc.SaveProject(ctx, sess, "p1", "", []byte("v1"))
	if err != nil {
		t.Fatalf("SaveProject failed: %v", err)
	}
	if !created {
		t.Fatal("first save should create a revision")
	}
	if want := revision.ComputeID(revision.RootID, []byte("v1")); first != want {
		t.Errorf("revId = %s, want %s", first, want)
	}
	if head != first {
		t.Errorf("head = %s, want %s", head, first)
	}

	// Same bytes on a moved head land on a different chain position.
	second, created, err := svc.SaveProject(ctx, sess, "p1", "", []byte("v1"))
	if err != nil {
		t.Fatalf("second SaveProject failed: %v", err)
	}
	if !created {
		t.Fatal("second save should create a revision")
	}
	if second == first {
		t.Error("saving identical bytes at a new head must yield a new id")
	}
	if want := revision.ComputeID(first, []byte("v1")); second != want {
		t.Errorf("revId = %s, want %s", second, want)
	}

	// Replaying the same content against the same head is idempotent.
	head = first
	replay, created, err := svc.SaveProject(ctx, sess, "p1", "", []byte("v1"))
	if err != nil {
		t.Fatalf("replay SaveProject failed: %v", err)
	}
	if created {
		t.Error("replayed save should not create a new revision")
	}
	if replay != second {
		t.Errorf("replay revId = %s, want %s", replay, second)
	}
}

func TestSaveProjectReadOnlyShareCannotWrite(t *testing.T) {
	graph := access.ProjectGraph{
		Owners:  access.NewSet("alice"),
		Members: access.NewSet("alice"),
		SharedWithTeachersOf: []access.CourseRoster{
			{CourseID: "c1", Teachers: access.NewSet("prof")},
		},
	}
	head := ""
	fake := &fakeStore{
		getProjectFn: func(ctx context.Context, projID string) (store.Project, error) {
			return store.Project{ProjID: projID, HeadID: head}, nil
		},
		projectGraphFn: func(ctx context.Context, projID string) (access.ProjectGraph, error) {
			return graph, nil
		},
		updateProjectHeadFn: func(ctx context.Context, projID, headID, sharedName string) error {
			head = headID
			return nil
		},
	}
	svc := newTestService(t, fake)
	ctx := context.Background()

	if _, _, err := svc.SaveProject(ctx, Session{UserName: "alice"}, "p1", "", []byte("v1")); err != nil {
		t.Fatalf("owner save failed: %v", err)
	}

	// A teacher of a shared-with course can read but never write.
	loaded, err := svc.LoadProject(ctx, Session{UserName: "prof"}, "p1")
	if err != nil {
		t.Fatalf("teacher should be able to read: %v", err)
	}
	if string(loaded.Payload) != "v1" {
		t.Errorf("loaded payload = %q, want v1", loaded.Payload)
	}
	_, _, err = svc.SaveProject(ctx, Session{UserName: "prof"}, "p1", "", []byte("x"))
	if code := domainCode(t, err); code != "NOT_AUTHORIZED" {
		t.Errorf("code = %s, want NOT_AUTHORIZED", code)
	}
}

func TestSaveProjectUnknownProject(t *testing.T) {
	svc := newTestService(t, &fakeStore{})
	_, _, err := svc.SaveProject(context.Background(), Session{UserName: "alice"}, "nope", "", []byte("x"))
	if code := domainCode(t, err); code != "NO_SUCH_PROJECT" {
		t.Errorf("code = %s, want NO_SUCH_PROJECT", code)
	}
}

func TestGetRevisionChainWalksToRoot(t *testing.T) {
	head := ""
	fake := &fakeStore{
		getProjectFn: func(ctx context.Context, projID string) (store.Project, error) {
			return store.Project{ProjID: projID, HeadID: head}, nil
		},
		projectGraphFn: func(ctx context.Context, projID string) (access.ProjectGraph, error) {
			return memberGraph("alice"), nil
		},
		updateProjectHeadFn: func(ctx context.Context, projID, headID, sharedName string) error {
			head = headID
			return nil
		},
	}
	svc := newTestService(t, fake)
	ctx := context.Background()
	sess := Session{UserName: "alice"}

	for _, payload := range []string{"v1", "v2", "v3"} {
		if _, _, err := svc.SaveProject(ctx, sess, "p1", "", []byte(payload)); err != nil {
			t.Fatalf("SaveProject(%s) failed: %v", payload, err)
		}
	}

	chain, err := svc.GetRevisionChain(ctx, sess, "p1")
	if err != nil {
		t.Fatalf("GetRevisionChain failed: %v", err)
	}
	if len(chain) != 3 {
		t.Fatalf("chain length = %d, want 3", len(chain))
	}
	if string(chain[0].Payload) != "v3" || string(chain[2].Payload) != "v1" {
		t.Errorf("chain order wrong: head=%q root=%q", chain[0].Payload, chain[2].Payload)
	}
	if chain[2].PrevID != revision.RootID {
		t.Errorf("oldest revision prevId = %s, want root sentinel", chain[2].PrevID)
	}
}

func TestGetRevisionRootSentinel(t *testing.T) {
	svc := newTestService(t, &fakeStore{})

	_, err := svc.GetRevision(context.Background(), Session{UserName: "alice"}, revision.RootID)
	if code := domainCode(t, err); code != "NO_SUCH_REVISION" {
		t.Errorf("code = %s, want NO_SUCH_REVISION", code)
	}
}

func TestGetRevisionSurvivesMissingAncestor(t *testing.T) {
	head := ""
	fake := &fakeStore{
		getProjectFn: func(ctx context.Context, projID string) (store.Project, error) {
			return store.Project{ProjID: projID, HeadID: head}, nil
		},
		projectGraphFn: func(ctx context.Context, projID string) (access.ProjectGraph, error) {
			return memberGraph("alice"), nil
		},
		updateProjectHeadFn: func(ctx context.Context, projID, headID, sharedName string) error {
			head = headID
			return nil
		},
	}
	dir := t.TempDir()
	revisions, err := revision.NewFSStore(dir)
	if err != nil {
		t.Fatalf("NewFSStore failed: %v", err)
	}
	svc := newTestService(t, fake)
	svc.revisions = revisions
	ctx := context.Background()
	sess := Session{UserName: "alice"}

	first, _, err := svc.SaveProject(ctx, sess, "p1", "", []byte("v1"))
	if err != nil {
		t.Fatalf("SaveProject(v1) failed: %v", err)
	}
	second, _, err := svc.SaveProject(ctx, sess, "p1", "", []byte("v2"))
	if err != nil {
		t.Fatalf("SaveProject(v2) failed: %v", err)
	}

	if err := os.Remove(filepath.Join(dir, first+".revision")); err != nil {
		t.Fatalf("removing ancestor payload: %v", err)
	}

	// The newer revision is still readable on its own.
	view, err := svc.GetRevision(ctx, sess, second)
	if err != nil {
		t.Fatalf("GetRevision failed: %v", err)
	}
	if string(view.Payload) != "v2" {
		t.Errorf("payload = %q, want v2", view.Payload)
	}

	// The full walk is the operation that notices the hole.
	_, err = svc.GetRevisionChain(ctx, sess, "p1")
	if code := domainCode(t, err); code != "CORRUPT_CHAIN" {
		t.Errorf("code = %s, want CORRUPT_CHAIN", code)
	}
}

func TestShareProjectStoreRevalidatesWriter(t *testing.T) {
	fake := &fakeStore{
		getProjectFn: func(ctx context.Context, projID string) (store.Project, error) {
			return store.Project{ProjID: projID}, nil
		},
		projectGraphFn: func(ctx context.Context, projID string) (access.ProjectGraph, error) {
			return memberGraph("alice"), nil
		},
		// The snapshot above says alice may write, but by the time the store
		// runs its transaction she has lost access.
		addMemberFn: func(ctx context.Context, projID, userName, actor string) error {
			return store.ErrNotAllowed
		},
	}
	svc := newTestService(t, fake)

	err := svc.ShareProject(context.Background(), Session{UserName: "alice"}, "p1", "bob")
	if code := domainCode(t, err); code != "NOT_AUTHORIZED" {
		t.Errorf("code = %s, want NOT_AUTHORIZED", code)
	}
}

func TestRemoveTeacherFloor(t *testing.T) {
	fake := &fakeStore{
		courseRosterFn: func(ctx context.Context, courseID string) (access.CourseRoster, error) {
			return access.CourseRoster{CourseID: courseID, Teachers: access.NewSet("prof")}, nil
		},
		removeTeacherFn: func(ctx context.Context, courseID, userName, actor string) error {
			return store.ErrLastTeacher
		},
	}
	svc := newTestService(t, fake)

	err := svc.RemoveTeacher(context.Background(), Session{UserName: "prof"}, "c1", "prof")
	if code := domainCode(t, err); code != "NOT_PERMITTED" {
		t.Errorf("code = %s, want NOT_PERMITTED", code)
	}
}

func TestRemoveTeacherAbsent(t *testing.T) {
	fake := &fakeStore{
		courseRosterFn: func(ctx context.Context, courseID string) (access.CourseRoster, error) {
			return access.CourseRoster{CourseID: courseID, Teachers: access.NewSet("prof", "other")}, nil
		},
		removeTeacherFn: func(ctx context.Context, courseID, userName, actor string) error {
			return store.ErrAbsent
		},
	}
	svc := newTestService(t, fake)

	err := svc.RemoveTeacher(context.Background(), Session{UserName: "prof"}, "c1", "stranger")
	if code := domainCode(t, err); code != "USER_LOGIC_ERROR" {
		t.Errorf("code = %s, want USER_LOGIC_ERROR", code)
	}
}

func TestRemoveTeacherRequiresTeacher(t *testing.T) {
	fake := &fakeStore{
		courseRosterFn: func(ctx context.Context, courseID string) (access.CourseRoster, error) {
			return access.CourseRoster{CourseID: courseID, Teachers: access.NewSet("prof")}, nil
		},
	}
	svc := newTestService(t, fake)

	err := svc.RemoveTeacher(context.Background(), Session{UserName: "student"}, "c1", "prof")
	if code := domainCode(t, err); code != "NOT_AUTHORIZED" {
		t.Errorf("code = %s, want NOT_AUTHORIZED", code)
	}
}

func TestUnshareProjectRejectsOwnerRemoval(t *testing.T) {
	fake := &fakeStore{
		getProjectFn: func(ctx context.Context, projID string) (store.Project, error) {
			return store.Project{ProjID: projID}, nil
		},
		projectGraphFn: func(ctx context.Context, projID string) (access.ProjectGraph, error) {
			return memberGraph("alice", "bob"), nil
		},
	}
	svc := newTestService(t, fake)

	err := svc.UnshareProject(context.Background(), Session{UserName: "bob"}, "p1", "alice")
	if code := domainCode(t, err); code != "NOT_AUTHORIZED" {
		t.Errorf("code = %s, want NOT_AUTHORIZED", code)
	}
}

func TestUnshareProjectAbsentMember(t *testing.T) {
	fake := &fakeStore{
		getProjectFn: func(ctx context.Context, projID string) (store.Project, error) {
			return store.Project{ProjID: projID}, nil
		},
		projectGraphFn: func(ctx context.Context, projID string) (access.ProjectGraph, error) {
			return memberGraph("alice"), nil
		},
		removeMemberFn: func(ctx context.Context, projID, userName, actor string) error {
			return store.ErrAbsent
		},
	}
	svc := newTestService(t, fake)

	err := svc.UnshareProject(context.Background(), Session{UserName: "alice"}, "p1", "ghost")
	if code := domainCode(t, err); code != "USER_LOGIC_ERROR" {
		t.Errorf("code = %s, want USER_LOGIC_ERROR", code)
	}
}

func TestSubmitProjectRequiresEnrollment(t *testing.T) {
	fake := &fakeStore{
		getAssignmentFn: func(ctx context.Context, assignID string) (store.Assignment, error) {
			return store.Assignment{AssignID: assignID, CourseID: "c1"}, nil
		},
		getProjectFn: func(ctx context.Context, projID string) (store.Project, error) {
			return store.Project{ProjID: projID, HeadID: revision.ComputeID(revision.RootID, []byte("v1"))}, nil
		},
		projectGraphFn: func(ctx context.Context, projID string) (access.ProjectGraph, error) {
			return memberGraph("alice"), nil
		},
		courseRosterFn: func(ctx context.Context, courseID string) (access.CourseRoster, error) {
			return access.CourseRoster{
				CourseID: courseID,
				Teachers: access.NewSet("prof"),
				Students: access.NewSet("someone-else"),
			}, nil
		},
	}
	svc := newTestService(t, fake)

	_, err := svc.SubmitProject(context.Background(), Session{UserName: "alice"}, "a1", "p1")
	if code := domainCode(t, err); code != "USER_LOGIC_ERROR" {
		t.Errorf("code = %s, want USER_LOGIC_ERROR", code)
	}
}

func TestSubmitProjectSnapshotsHead(t *testing.T) {
	headID := revision.ComputeID(revision.RootID, []byte("v1"))
	var snapshot store.Submission
	fake := &fakeStore{
		getAssignmentFn: func(ctx context.Context, assignID string) (store.Assignment, error) {
			return store.Assignment{AssignID: assignID, CourseID: "c1"}, nil
		},
		getProjectFn: func(ctx context.Context, projID string) (store.Project, error) {
			return store.Project{ProjID: projID, HeadID: headID}, nil
		},
		projectGraphFn: func(ctx context.Context, projID string) (access.ProjectGraph, error) {
			return memberGraph("alice", "bob"), nil
		},
		courseRosterFn: func(ctx context.Context, courseID string) (access.CourseRoster, error) {
			return access.CourseRoster{
				CourseID: courseID,
				Teachers: access.NewSet("prof"),
				Students: access.NewSet("alice"),
			}, nil
		},
		insertSubmissionFn: func(ctx context.Context, sub store.Submission) error {
			snapshot = sub
			return nil
		},
	}
	svc := newTestService(t, fake)

	submitID, err := svc.SubmitProject(context.Background(), Session{UserName: "alice"}, "a1", "p1")
	if err != nil {
		t.Fatalf("SubmitProject failed: %v", err)
	}
	if submitID == "" || snapshot.SubmitID != submitID {
		t.Errorf("submitId not recorded: %q vs %q", submitID, snapshot.SubmitID)
	}
	if snapshot.RevisionID != headID {
		t.Errorf("snapshot revision = %s, want %s", snapshot.RevisionID, headID)
	}
	if len(snapshot.Members) != 2 {
		t.Errorf("snapshot members = %v, want alice and bob", snapshot.Members)
	}
	if snapshot.Submitter != "alice" {
		t.Errorf("submitter = %s, want alice", snapshot.Submitter)
	}
}

func TestLoginSessionLifecycle(t *testing.T) {
	users := map[string]store.User{}
	fake := &fakeStore{
		getUserFn: func(ctx context.Context, userName string) (store.User, error) {
			user, ok := users[userName]
			if !ok {
				return store.User{}, sql.ErrNoRows
			}
			return user, nil
		},
		userExistsFn: func(ctx context.Context, userName string) (bool, error) {
			_, ok := users[userName]
			return ok, nil
		},
		createUserFn: func(ctx context.Context, user store.User) error {
			users[user.UserName] = user
			return nil
		},
	}
	svc := newTestService(t, fake)
	ctx := context.Background()

	if _, err := svc.CreateUser(ctx, "alice", "hunter22", ""); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}

	if _, err := svc.Login(ctx, "alice", "wrong"); err == nil {
		t.Fatal("expected login with wrong password to fail")
	} else if code := domainCode(t, err); code != "INCORRECT_PASSWORD" {
		t.Errorf("code = %s, want INCORRECT_PASSWORD", code)
	}

	sess, err := svc.Login(ctx, "alice", "hunter22")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	resolved, err := svc.SessionFromToken(ctx, sess.Token)
	if err != nil {
		t.Fatalf("SessionFromToken failed: %v", err)
	}
	if resolved.UserName != "alice" {
		t.Errorf("resolved user = %s, want alice", resolved.UserName)
	}

	if err := svc.Logout(ctx, sess.Token); err != nil {
		t.Fatalf("Logout failed: %v", err)
	}
	if _, err := svc.SessionFromToken(ctx, sess.Token); !errors.Is(err, auth.ErrInvalidToken) {
		t.Fatalf("expected revoked token to be rejected, got %v", err)
	}
}
