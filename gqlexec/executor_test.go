package gqlexec

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/taskboard/taskboard-go/auth"
	"github.com/taskboard/taskboard-go/auth/authtest"
	"github.com/taskboard/taskboard-go/broker"
	"github.com/taskboard/taskboard-go/dispatch"
	"github.com/taskboard/taskboard-go/gql"
	"github.com/taskboard/taskboard-go/sessions"
	"github.com/taskboard/taskboard-go/tasks"
)

func newExecutor(t *testing.T) (*Executor, auth.Identity) {
	t.Helper()
	reg := sessions.NewRegistry()
	creds := authtest.NewCreds()
	alice := creds.Add("alice", "password123")

	disp, err := dispatch.New(dispatch.Config{
		Store:       tasks.NewStore(),
		Registry:    reg,
		Broker:      broker.New(reg),
		Credentials: creds,
		Tokens:      authtest.Tokens{},
	})
	if err != nil {
		t.Fatalf("dispatch.New: %v", err)
	}
	exec, err := New(disp)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return exec, alice
}

func asCtx(ident *auth.Identity) context.Context {
	return gql.WithIdentity(context.Background(), ident)
}

// reencode round-trips the executor's data tree into a typed view.
func reencode(t *testing.T, data any, into any) {
	t.Helper()
	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal data: %v", err)
	}
	if err := json.Unmarshal(raw, into); err != nil {
		t.Fatalf("unmarshal data: %v", err)
	}
}

func firstError(res *gql.Result) string {
	if len(res.Errors) == 0 {
		return ""
	}
	return res.Errors[0].Message
}

func TestLoginMutation(t *testing.T) {
	exec, _ := newExecutor(t)

	t.Run("valid credentials", func(t *testing.T) {
		res := exec.Execute(asCtx(nil), gql.Request{
			Query: `mutation { login(username: "alice", password: "password123") { token user { username } } }`,
		})
		if res.HasErrors() {
			t.Fatalf("errors: %+v", res.Errors)
		}
		var data struct {
			Login struct {
				Token string `json:"token"`
				User  struct {
					Username string `json:"username"`
				} `json:"user"`
			} `json:"login"`
		}
		reencode(t, res.Data, &data)
		if data.Login.Token == "" || data.Login.User.Username != "alice" {
			t.Errorf("login = %+v", data.Login)
		}
	})

	t.Run("invalid credentials", func(t *testing.T) {
		res := exec.Execute(asCtx(nil), gql.Request{
			Query: `mutation { login(username: "alice", password: "nope") { token } }`,
		})
		if got := firstError(res); got != "Invalid credentials" {
			t.Errorf("error = %q, want Invalid credentials", got)
		}
	})
}

func TestQueriesRequireIdentity(t *testing.T) {
	exec, _ := newExecutor(t)

	res := exec.Execute(asCtx(nil), gql.Request{Query: `{ getTasks { id } }`})
	if got := firstError(res); got != "Unauthorized" {
		t.Errorf("error = %q, want Unauthorized", got)
	}

	res = exec.Execute(asCtx(nil), gql.Request{Query: `mutation { addTask(title: "x") { id } }`})
	if got := firstError(res); got != "Unauthorized" {
		t.Errorf("addTask error = %q, want Unauthorized", got)
	}
}

func TestMeReflectsIdentity(t *testing.T) {
	exec, alice := newExecutor(t)

	res := exec.Execute(asCtx(&alice), gql.Request{Query: `{ me { username } }`})
	var data struct {
		Me *struct {
			Username string `json:"username"`
		} `json:"me"`
	}
	reencode(t, res.Data, &data)
	if data.Me == nil || data.Me.Username != "alice" {
		t.Errorf("me = %+v", data.Me)
	}

	res = exec.Execute(asCtx(nil), gql.Request{Query: `{ me { username } }`})
	if res.HasErrors() {
		t.Fatalf("anonymous me errored: %+v", res.Errors)
	}
	data.Me = nil
	reencode(t, res.Data, &data)
	if data.Me != nil {
		t.Errorf("anonymous me = %+v, want null", data.Me)
	}
}

func TestTaskLifecycle(t *testing.T) {
	exec, alice := newExecutor(t)
	ctx := asCtx(&alice)

	res := exec.Execute(ctx, gql.Request{
		Query: `mutation { addTask(title: "Buy milk", date: "2024-01-01") { id title status createdBy } }`,
	})
	if res.HasErrors() {
		t.Fatalf("addTask errors: %+v", res.Errors)
	}
	var added struct {
		AddTask struct {
			ID        string `json:"id"`
			Title     string `json:"title"`
			Status    string `json:"status"`
			CreatedBy string `json:"createdBy"`
		} `json:"addTask"`
	}
	reencode(t, res.Data, &added)
	if added.AddTask.Title != "Buy milk" || added.AddTask.Status != "pending" || added.AddTask.CreatedBy != "alice" {
		t.Fatalf("addTask = %+v", added.AddTask)
	}

	res = exec.Execute(ctx, gql.Request{
		Query:     `mutation Done($id: ID!) { markDone(id: $id) { status } }`,
		Variables: json.RawMessage(`{"id":"` + added.AddTask.ID + `"}`),
	})
	if res.HasErrors() {
		t.Fatalf("markDone errors: %+v", res.Errors)
	}
	var done struct {
		MarkDone struct {
			Status string `json:"status"`
		} `json:"markDone"`
	}
	reencode(t, res.Data, &done)
	if done.MarkDone.Status != "done" {
		t.Errorf("status = %q, want done", done.MarkDone.Status)
	}

	res = exec.Execute(ctx, gql.Request{Query: `{ getTasks(status: "done") { id } }`})
	var listed struct {
		GetTasks []struct {
			ID string `json:"id"`
		} `json:"getTasks"`
	}
	reencode(t, res.Data, &listed)
	if len(listed.GetTasks) != 1 || listed.GetTasks[0].ID != added.AddTask.ID {
		t.Errorf("getTasks(done) = %+v", listed.GetTasks)
	}

	res = exec.Execute(ctx, gql.Request{
		Query:     `mutation Del($id: ID!) { deleteTask(id: $id) }`,
		Variables: json.RawMessage(`{"id":"` + added.AddTask.ID + `"}`),
	})
	if res.HasErrors() {
		t.Fatalf("deleteTask errors: %+v", res.Errors)
	}
	var deleted struct {
		DeleteTask bool `json:"deleteTask"`
	}
	reencode(t, res.Data, &deleted)
	if !deleted.DeleteTask {
		t.Error("deleteTask returned false")
	}

	res = exec.Execute(ctx, gql.Request{
		Query: `mutation { markDone(id: "12345") { status } }`,
	})
	if got := firstError(res); got != "Not found" {
		t.Errorf("error = %q, want Not found", got)
	}
}

func TestAddTaskValidation(t *testing.T) {
	exec, alice := newExecutor(t)

	res := exec.Execute(asCtx(&alice), gql.Request{
		Query: `mutation { addTask(title: "") { id } }`,
	})
	if got := firstError(res); got != "Missing title" {
		t.Errorf("error = %q, want Missing title", got)
	}
}

func TestPlanSubscription(t *testing.T) {
	exec, _ := newExecutor(t)

	t.Run("task added", func(t *testing.T) {
		plan, err := exec.PlanSubscription(gql.Request{Query: `subscription { taskAdded { id title } }`})
		if err != nil {
			t.Fatalf("PlanSubscription: %v", err)
		}
		if plan.Topic != broker.TopicTaskAdded || plan.Field != "taskAdded" || plan.Project != nil {
			t.Errorf("plan = %+v", plan)
		}
	})

	t.Run("task deleted projects id", func(t *testing.T) {
		plan, err := exec.PlanSubscription(gql.Request{Query: `subscription { taskDeleted }`})
		if err != nil {
			t.Fatalf("PlanSubscription: %v", err)
		}
		if plan.Topic != broker.TopicTaskDeleted || plan.Project == nil {
			t.Fatalf("plan = %+v", plan)
		}
		got, err := plan.Project(json.RawMessage(`{"id":42}`))
		if err != nil {
			t.Fatalf("Project: %v", err)
		}
		if got != int64(42) {
			t.Errorf("projected = %v (%T), want 42", got, got)
		}
	})

	t.Run("query falls through", func(t *testing.T) {
		_, err := exec.PlanSubscription(gql.Request{Query: `{ getTasks { id } }`})
		if !errors.Is(err, gql.ErrNotSubscription) {
			t.Errorf("err = %v, want ErrNotSubscription", err)
		}
	})

	t.Run("unknown field", func(t *testing.T) {
		if _, err := exec.PlanSubscription(gql.Request{Query: `subscription { taskArchived }`}); err == nil {
			t.Error("unknown field accepted")
		}
	})

	t.Run("multiple fields", func(t *testing.T) {
		if _, err := exec.PlanSubscription(gql.Request{Query: `subscription { taskAdded { id } taskUpdated { id } }`}); err == nil {
			t.Error("multi-field subscription accepted")
		}
	})
}
