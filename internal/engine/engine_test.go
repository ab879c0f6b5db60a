package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"redline/internal/config"
	"redline/internal/db"
	"redline/internal/domain"
	"redline/internal/engine"
	"redline/internal/migrate"
	"redline/internal/repo"
)

type testEnv struct {
	Engine     engine.Engine
	Ctx        context.Context
	Admin      domain.Principal
	Maintainer domain.Principal
	Reporter   domain.Principal
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := engine.New(conn, config.Default())
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var tick time.Duration
	now := func() time.Time {
		tick += time.Second
		return base.Add(tick)
	}
	eng.Now = now
	eng.Events.Now = now
	ctx := context.Background()
	env := testEnv{Engine: eng, Ctx: ctx}
	env.Admin = mustCreateUser(t, env, "root", "root@deeplogicai.tech", "ADMIN")
	env.Maintainer = mustCreateUser(t, env, "mia", "mia@deeplogicai.tech", "MAINTAINER")
	env.Reporter = mustCreateUser(t, env, "rey", "rey@deeplogicai.tech", "REPORTER")
	return env
}

func mustCreateUser(t *testing.T, env testEnv, username, email, role string) domain.Principal {
	t.Helper()
	u, err := env.Engine.CreateUser(env.Ctx, engine.UserCreateOptions{
		Username: username,
		Email:    email,
		Password: "s3cret-pass",
		Role:     role,
	})
	if err != nil {
		t.Fatalf("create user %s: %v", username, err)
	}
	return u.Principal()
}

func mustCreateIssue(t *testing.T, env testEnv, p domain.Principal, title string) domain.Issue {
	t.Helper()
	i, err := env.Engine.CreateIssue(env.Ctx, engine.IssueCreateOptions{
		Title:       title,
		Description: "details",
		Severity:    "HIGH",
	}, p)
	if err != nil {
		t.Fatalf("create issue: %v", err)
	}
	return i
}

func TestIssueLifecycle(t *testing.T) {
	env := newTestEnv(t)
	issue := mustCreateIssue(t, env, env.Reporter, "Payment service leaks file handles")
	if issue.Status != domain.StatusOpen {
		t.Fatalf("new issue status = %s, want OPEN", issue.Status)
	}
	issue, err := env.Engine.Transition(env.Ctx, issue.ID, domain.StatusTriaged, env.Maintainer)
	if err != nil || issue.Status != domain.StatusTriaged {
		t.Fatalf("to TRIAGED: %v (status %s)", err, issue.Status)
	}
	// TRIAGED cannot jump straight to DONE
	_, err = env.Engine.Transition(env.Ctx, issue.ID, domain.StatusDone, env.Maintainer)
	var ite domain.InvalidTransitionError
	if !errors.As(err, &ite) {
		t.Fatalf("TRIAGED->DONE: got %v, want InvalidTransitionError", err)
	}
	if ite.From != domain.StatusTriaged || ite.To != domain.StatusDone {
		t.Fatalf("transition error carries %s->%s", ite.From, ite.To)
	}
	issue, err = env.Engine.Transition(env.Ctx, issue.ID, domain.StatusInProgress, env.Maintainer)
	if err != nil || issue.Status != domain.StatusInProgress {
		t.Fatalf("to IN_PROGRESS: %v", err)
	}
	issue, err = env.Engine.Transition(env.Ctx, issue.ID, domain.StatusDone, env.Maintainer)
	if err != nil || issue.Status != domain.StatusDone {
		t.Fatalf("to DONE: %v", err)
	}
	// DONE can be reopened into IN_PROGRESS only
	if _, err := env.Engine.Transition(env.Ctx, issue.ID, domain.StatusOpen, env.Maintainer); !errors.As(err, &ite) {
		t.Fatalf("DONE->OPEN: got %v", err)
	}
	if _, err := env.Engine.Transition(env.Ctx, issue.ID, domain.StatusInProgress, env.Maintainer); err != nil {
		t.Fatalf("DONE->IN_PROGRESS: %v", err)
	}
}

func TestTransitionSameStatusIsNoop(t *testing.T) {
	env := newTestEnv(t)
	issue := mustCreateIssue(t, env, env.Reporter, "noop")
	got, err := env.Engine.Transition(env.Ctx, issue.ID, domain.StatusOpen, env.Maintainer)
	if err != nil {
		t.Fatalf("OPEN->OPEN: %v", err)
	}
	if got.UpdatedAt != issue.UpdatedAt {
		t.Fatalf("noop transition touched updated_at")
	}
	evts, err := env.Engine.Repo.LatestEvents(env.Ctx, 10, "issue.transitioned", "", issue.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(evts) != 0 {
		t.Fatalf("noop transition wrote %d events", len(evts))
	}
}

func TestReporterCannotTransitionOwnIssue(t *testing.T) {
	env := newTestEnv(t)
	issue := mustCreateIssue(t, env, env.Reporter, "mine")
	_, err := env.Engine.Transition(env.Ctx, issue.ID, domain.StatusTriaged, env.Reporter)
	if err == nil {
		t.Fatal("reporter transitioned an issue")
	}
	got, err := env.Engine.GetIssue(env.Ctx, issue.ID, env.Reporter)
	if err != nil || got.Status != domain.StatusOpen {
		t.Fatalf("issue moved despite denial: %v %s", err, got.Status)
	}
}

func TestReporterCannotEditIssueFields(t *testing.T) {
	env := newTestEnv(t)
	issue := mustCreateIssue(t, env, env.Reporter, "mine")
	title := "renamed"
	_, err := env.Engine.UpdateIssue(env.Ctx, engine.IssueUpdateOptions{ID: issue.ID, Title: &title}, env.Reporter)
	if err == nil {
		t.Fatal("reporter edited an issue")
	}
}

func TestMaintainerEditsAnyIssue(t *testing.T) {
	env := newTestEnv(t)
	issue := mustCreateIssue(t, env, env.Reporter, "typo in tilte")
	title := "typo in title"
	sev := "CRITICAL"
	got, err := env.Engine.UpdateIssue(env.Ctx, engine.IssueUpdateOptions{ID: issue.ID, Title: &title, Severity: &sev}, env.Maintainer)
	if err != nil {
		t.Fatalf("maintainer edit: %v", err)
	}
	if got.Title != title || got.Severity != domain.SeverityCritical {
		t.Fatalf("edit not applied: %+v", got)
	}
	if got.Status != domain.StatusOpen {
		t.Fatalf("field edit changed status to %s", got.Status)
	}
}

func TestTransitionUnknownIssue(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.Transition(env.Ctx, "no-such-id", domain.StatusTriaged, env.Admin)
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestTransitionInvalidStatusValue(t *testing.T) {
	env := newTestEnv(t)
	issue := mustCreateIssue(t, env, env.Reporter, "x")
	if _, err := env.Engine.Transition(env.Ctx, issue.ID, domain.Status("ARCHIVED"), env.Admin); err == nil {
		t.Fatal("accepted unknown status value")
	}
}

func TestConcurrentTransitionLoses(t *testing.T) {
	env := newTestEnv(t)
	issue := mustCreateIssue(t, env, env.Reporter, "raced")
	if _, err := env.Engine.Transition(env.Ctx, issue.ID, domain.StatusTriaged, env.Maintainer); err != nil {
		t.Fatal(err)
	}
	// replay the compare-and-swap with the stale OPEN status
	tx, err := env.Engine.DB.BeginTx(env.Ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer tx.Rollback()
	err = env.Engine.Repo.UpdateIssueStatus(env.Ctx, tx, issue.ID, domain.StatusOpen, domain.StatusTriaged, "2026-01-02T00:00:00Z")
	if !errors.Is(err, repo.ErrStatusConflict) {
		t.Fatalf("stale swap: got %v, want ErrStatusConflict", err)
	}
}

func TestDeleteIssueCascades(t *testing.T) {
	env := newTestEnv(t)
	issue := mustCreateIssue(t, env, env.Reporter, "gone soon")
	if _, err := env.Engine.AddComment(env.Ctx, issue.ID, "first", env.Reporter); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.AddAttachment(env.Ctx, issue.ID, "uploads/trace.log", "", env.Reporter); err != nil {
		t.Fatal(err)
	}
	if err := env.Engine.DeleteIssue(env.Ctx, issue.ID, env.Maintainer); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := env.Engine.Repo.GetIssue(env.Ctx, issue.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("issue still present: %v", err)
	}
	comments, err := env.Engine.Repo.ListComments(env.Ctx, issue.ID)
	if err != nil || len(comments) != 0 {
		t.Fatalf("comments survived delete: %v %d", err, len(comments))
	}
	atts, err := env.Engine.Repo.ListAttachments(env.Ctx, issue.ID)
	if err != nil || len(atts) != 0 {
		t.Fatalf("attachments survived delete: %v %d", err, len(atts))
	}
}

func TestReporterDeleteDenied(t *testing.T) {
	env := newTestEnv(t)
	issue := mustCreateIssue(t, env, env.Reporter, "mine")
	if err := env.Engine.DeleteIssue(env.Ctx, issue.ID, env.Reporter); err == nil {
		t.Fatal("reporter deleted an issue")
	}
}

func TestCommentOwnership(t *testing.T) {
	env := newTestEnv(t)
	issue := mustCreateIssue(t, env, env.Reporter, "talk")
	c, err := env.Engine.AddComment(env.Ctx, issue.ID, "from reporter", env.Reporter)
	if err != nil {
		t.Fatal(err)
	}
	other := mustCreateUser(t, env, "rex", "rex@deeplogicai.tech", "REPORTER")
	if _, err := env.Engine.UpdateComment(env.Ctx, c.ID, "hijacked", other); err == nil {
		t.Fatal("non-owner reporter edited a comment")
	}
	if _, err := env.Engine.UpdateComment(env.Ctx, c.ID, "edited by author", env.Reporter); err != nil {
		t.Fatalf("author edit: %v", err)
	}
	if _, err := env.Engine.UpdateComment(env.Ctx, c.ID, "edited by maintainer", env.Maintainer); err != nil {
		t.Fatalf("maintainer edit: %v", err)
	}
}

func TestCommentsOrderedOldestFirst(t *testing.T) {
	env := newTestEnv(t)
	issue := mustCreateIssue(t, env, env.Reporter, "talk")
	for _, content := range []string{"one", "two", "three"} {
		if _, err := env.Engine.AddComment(env.Ctx, issue.ID, content, env.Reporter); err != nil {
			t.Fatal(err)
		}
	}
	comments, err := env.Engine.ListComments(env.Ctx, issue.ID, env.Maintainer)
	if err != nil {
		t.Fatal(err)
	}
	if len(comments) != 3 || comments[0].Content != "one" || comments[2].Content != "three" {
		t.Fatalf("unexpected order: %+v", comments)
	}
}

func TestLoginRules(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.Login(env.Ctx, "mia@deeplogicai.tech", "s3cret-pass"); err != nil {
		t.Fatalf("maintainer login: %v", err)
	}
	if _, err := env.Engine.Login(env.Ctx, "mia@deeplogicai.tech", "wrong"); !errors.Is(err, engine.ErrInvalidCredentials) {
		t.Fatalf("wrong password: %v", err)
	}
	if _, err := env.Engine.Login(env.Ctx, "rey@deeplogicai.tech", "s3cret-pass"); !errors.Is(err, engine.ErrLoginRestricted) {
		t.Fatalf("reporter login: %v", err)
	}
	var dom engine.EmailDomainError
	if _, err := env.Engine.Login(env.Ctx, "mia@gmail.com", "s3cret-pass"); !errors.As(err, &dom) {
		t.Fatalf("outside domain: %v", err)
	}
	if _, err := env.Engine.Login(env.Ctx, "ghost@deeplogicai.tech", "s3cret-pass"); !errors.Is(err, engine.ErrInvalidCredentials) {
		t.Fatalf("unknown email: %v", err)
	}
}

func TestAPIKeyRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	key, plaintext, err := env.Engine.CreateAPIKey(env.Ctx, "rey", "ci")
	if err != nil {
		t.Fatal(err)
	}
	if plaintext == "" || key.KeyHash == plaintext {
		t.Fatal("plaintext missing or stored verbatim")
	}
	p, err := env.Engine.Authenticate(env.Ctx, plaintext)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if p.UserID != env.Reporter.UserID || p.Role != domain.RoleReporter {
		t.Fatalf("wrong principal: %+v", p)
	}
	if _, err := env.Engine.Authenticate(env.Ctx, "rk_bogus"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("bogus key: %v", err)
	}
}

func TestSetUserRole(t *testing.T) {
	env := newTestEnv(t)
	u, err := env.Engine.SetUserRole(env.Ctx, "rey", domain.RoleMaintainer, env.Admin.UserID)
	if err != nil || u.Role != domain.RoleMaintainer {
		t.Fatalf("promote: %v", err)
	}
	promoted := domain.Principal{UserID: env.Reporter.UserID, Role: domain.RoleMaintainer}
	issue := mustCreateIssue(t, env, promoted, "post-promotion")
	if _, err := env.Engine.Transition(env.Ctx, issue.ID, domain.StatusTriaged, promoted); err != nil {
		t.Fatalf("promoted reporter transition: %v", err)
	}
	if _, err := env.Engine.SetUserRole(env.Ctx, "rey", domain.Role("BOSS"), env.Admin.UserID); err == nil {
		t.Fatal("accepted unknown role")
	}
}

func TestCreateIssueValidation(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.CreateIssue(env.Ctx, engine.IssueCreateOptions{Description: "d", Severity: "LOW"}, env.Reporter); err == nil {
		t.Fatal("accepted empty title")
	}
	if _, err := env.Engine.CreateIssue(env.Ctx, engine.IssueCreateOptions{Title: "t", Severity: "LOW"}, env.Reporter); err == nil {
		t.Fatal("accepted empty description")
	}
	if _, err := env.Engine.CreateIssue(env.Ctx, engine.IssueCreateOptions{Title: "t", Description: "d", Severity: "nope"}, env.Reporter); err == nil {
		t.Fatal("accepted bad severity")
	}
	i, err := env.Engine.CreateIssue(env.Ctx, engine.IssueCreateOptions{Title: "t", Description: "d"}, env.Reporter)
	if err != nil {
		t.Fatalf("default severity: %v", err)
	}
	if i.Severity != domain.SeverityMedium {
		t.Fatalf("severity = %s, want MEDIUM", i.Severity)
	}
	if _, err := env.Engine.CreateIssue(env.Ctx, engine.IssueCreateOptions{Title: "t", Description: "d"}, domain.Principal{}); err == nil {
		t.Fatal("unauthenticated create succeeded")
	}
}

func TestTransitionEventRecorded(t *testing.T) {
	env := newTestEnv(t)
	issue := mustCreateIssue(t, env, env.Reporter, "audited")
	if _, err := env.Engine.Transition(env.Ctx, issue.ID, domain.StatusTriaged, env.Admin); err != nil {
		t.Fatal(err)
	}
	evts, err := env.Engine.Repo.LatestEvents(env.Ctx, 5, "issue.transitioned", "issue", issue.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(evts) != 1 {
		t.Fatalf("got %d transition events", len(evts))
	}
	if evts[0].ActorID != env.Admin.UserID {
		t.Fatalf("actor = %s", evts[0].ActorID)
	}
}

func TestIssueListFilters(t *testing.T) {
	env := newTestEnv(t)
	a := mustCreateIssue(t, env, env.Reporter, "a")
	mustCreateIssue(t, env, env.Maintainer, "b")
	if _, err := env.Engine.Transition(env.Ctx, a.ID, domain.StatusTriaged, env.Maintainer); err != nil {
		t.Fatal(err)
	}
	open, err := env.Engine.ListIssues(env.Ctx, repo.IssueFilters{Status: "OPEN"}, env.Reporter)
	if err != nil || len(open) != 1 {
		t.Fatalf("open filter: %v %d", err, len(open))
	}
	mine, err := env.Engine.ListIssues(env.Ctx, repo.IssueFilters{CreatedBy: env.Reporter.UserID}, env.Reporter)
	if err != nil || len(mine) != 1 || mine[0].ID != a.ID {
		t.Fatalf("creator filter: %v", err)
	}
}
