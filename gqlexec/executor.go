// Package gqlexec implements the GraphQL executor over the operation
// dispatcher. The schema mirrors the task-list API one to one: every
// resolver marshals its arguments into a dispatcher payload, so the
// GraphQL surface and the socket RPC surface share validation, auth
// checks, and fan-out behavior.
package gqlexec

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/graphql-go/graphql"
	"github.com/graphql-go/graphql/language/ast"
	"github.com/graphql-go/graphql/language/parser"

	"github.com/taskboard/taskboard-go/auth"
	"github.com/taskboard/taskboard-go/broker"
	"github.com/taskboard/taskboard-go/dispatch"
	"github.com/taskboard/taskboard-go/gql"
)

var _ gql.Executor = (*Executor)(nil)

// Executor runs GraphQL documents against the dispatcher.
type Executor struct {
	disp   *dispatch.Dispatcher
	schema graphql.Schema
}

// New builds the schema and returns the executor.
func New(disp *dispatch.Dispatcher) (*Executor, error) {
	e := &Executor{disp: disp}
	schema, err := e.buildSchema()
	if err != nil {
		return nil, fmt.Errorf("gqlexec: build schema: %w", err)
	}
	e.schema = schema
	return e, nil
}

// Execute runs a query or mutation document.
func (e *Executor) Execute(ctx context.Context, req gql.Request) *gql.Result {
	var vars map[string]any
	if len(req.Variables) > 0 {
		if err := json.Unmarshal(req.Variables, &vars); err != nil {
			return &gql.Result{Errors: []gql.Error{{Message: "malformed variables"}}}
		}
	}

	r := graphql.Do(graphql.Params{
		Schema:         e.schema,
		RequestString:  req.Query,
		VariableValues: vars,
		OperationName:  req.OperationName,
		Context:        ctx,
	})

	out := &gql.Result{Data: r.Data}
	for _, ge := range r.Errors {
		out.Errors = append(out.Errors, gql.Error{Message: ge.Message})
	}
	return out
}

// PlanSubscription maps a single-field subscription document onto the
// broker topic that feeds it.
func (e *Executor) PlanSubscription(req gql.Request) (*gql.SubscriptionPlan, error) {
	doc, err := parser.Parse(parser.ParseParams{Source: req.Query})
	if err != nil {
		return nil, fmt.Errorf("malformed document: %w", err)
	}

	op := findOperation(doc, req.OperationName)
	if op == nil {
		return nil, fmt.Errorf("operation %q not found", req.OperationName)
	}
	if op.Operation != ast.OperationTypeSubscription {
		return nil, gql.ErrNotSubscription
	}
	if op.SelectionSet == nil || len(op.SelectionSet.Selections) != 1 {
		return nil, fmt.Errorf("subscriptions must select exactly one root field")
	}
	field, ok := op.SelectionSet.Selections[0].(*ast.Field)
	if !ok {
		return nil, fmt.Errorf("subscriptions must select a plain root field")
	}

	switch name := field.Name.Value; name {
	case "taskAdded":
		return &gql.SubscriptionPlan{Topic: broker.TopicTaskAdded, Field: name}, nil
	case "taskUpdated":
		return &gql.SubscriptionPlan{Topic: broker.TopicTaskUpdated, Field: name}, nil
	case "taskDeleted":
		return &gql.SubscriptionPlan{
			Topic:   broker.TopicTaskDeleted,
			Field:   name,
			Project: projectDeletedID,
		}, nil
	default:
		return nil, fmt.Errorf("unknown subscription field %q", name)
	}
}

// projectDeletedID unwraps the task.deleted payload to the bare id the
// taskDeleted field exposes.
func projectDeletedID(data json.RawMessage) (any, error) {
	var ev dispatch.DeletedEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, err
	}
	return ev.ID, nil
}

func findOperation(doc *ast.Document, name string) *ast.OperationDefinition {
	for _, def := range doc.Definitions {
		op, ok := def.(*ast.OperationDefinition)
		if !ok {
			continue
		}
		if name == "" || (op.Name != nil && op.Name.Value == name) {
			return op
		}
	}
	return nil
}

// call routes a resolver invocation through the dispatcher, carrying
// the identity the transport attached to the context.
func (e *Executor) call(ctx context.Context, op string, args map[string]any) (any, error) {
	payload, err := json.Marshal(args)
	if err != nil {
		return nil, err
	}
	return e.disp.HandleAs(ctx, gql.IdentityFrom(ctx), op, payload)
}

func (e *Executor) buildSchema() (graphql.Schema, error) {
	userType := graphql.NewObject(graphql.ObjectConfig{
		Name: "User",
		Fields: graphql.Fields{
			"id":       &graphql.Field{Type: graphql.NewNonNull(graphql.ID)},
			"username": &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
		},
	})

	taskType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Task",
		Fields: graphql.Fields{
			"id":        &graphql.Field{Type: graphql.NewNonNull(graphql.ID)},
			"title":     &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
			"status":    &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
			"date":      &graphql.Field{Type: graphql.String},
			"file":      &graphql.Field{Type: graphql.String},
			"createdBy": &graphql.Field{Type: graphql.String},
		},
	})

	authPayloadType := graphql.NewObject(graphql.ObjectConfig{
		Name: "AuthPayload",
		Fields: graphql.Fields{
			"token": &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
			"user":  &graphql.Field{Type: graphql.NewNonNull(userType)},
		},
	})

	queryType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Query",
		Fields: graphql.Fields{
			"getTasks": &graphql.Field{
				Type: graphql.NewNonNull(graphql.NewList(graphql.NewNonNull(taskType))),
				Args: graphql.FieldConfigArgument{
					"status": &graphql.ArgumentConfig{Type: graphql.String},
				},
				Resolve: func(p graphql.ResolveParams) (any, error) {
					return e.call(p.Context, dispatch.OpListTasks, map[string]any{
						"status": stringArg(p.Args, "status"),
					})
				},
			},
			"me": &graphql.Field{
				Type: userType,
				Resolve: func(p graphql.ResolveParams) (any, error) {
					res, err := e.call(p.Context, dispatch.OpMe, nil)
					if err != nil {
						return nil, err
					}
					if ident, ok := res.(*auth.Identity); !ok || ident == nil {
						return nil, nil
					}
					return res, nil
				},
			},
		},
	})

	mutationType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Mutation",
		Fields: graphql.Fields{
			"login": &graphql.Field{
				Type: graphql.NewNonNull(authPayloadType),
				Args: graphql.FieldConfigArgument{
					"username": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
					"password": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				},
				Resolve: func(p graphql.ResolveParams) (any, error) {
					return e.call(p.Context, dispatch.OpLogin, map[string]any{
						"username": stringArg(p.Args, "username"),
						"password": stringArg(p.Args, "password"),
					})
				},
			},
			"addTask": &graphql.Field{
				Type: graphql.NewNonNull(taskType),
				Args: graphql.FieldConfigArgument{
					"title":    &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
					"date":     &graphql.ArgumentConfig{Type: graphql.String},
					"fileName": &graphql.ArgumentConfig{Type: graphql.String},
				},
				Resolve: func(p graphql.ResolveParams) (any, error) {
					return e.call(p.Context, dispatch.OpAddTask, map[string]any{
						"title":    stringArg(p.Args, "title"),
						"date":     stringArg(p.Args, "date"),
						"fileName": stringArg(p.Args, "fileName"),
					})
				},
			},
			"markDone": &graphql.Field{
				Type: graphql.NewNonNull(taskType),
				Args: graphql.FieldConfigArgument{
					"id": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.ID)},
				},
				Resolve: func(p graphql.ResolveParams) (any, error) {
					return e.call(p.Context, dispatch.OpMarkDone, map[string]any{
						"id": p.Args["id"],
					})
				},
			},
			"deleteTask": &graphql.Field{
				Type: graphql.NewNonNull(graphql.Boolean),
				Args: graphql.FieldConfigArgument{
					"id": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.ID)},
				},
				Resolve: func(p graphql.ResolveParams) (any, error) {
					if _, err := e.call(p.Context, dispatch.OpDeleteTask, map[string]any{
						"id": p.Args["id"],
					}); err != nil {
						return nil, err
					}
					return true, nil
				},
			},
		},
	})

	// The subscription fields are listed for schema completeness and
	// introspection. Live delivery happens in the WebSocket transport,
	// which consumes PlanSubscription instead of resolving here.
	subscriptionType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Subscription",
		Fields: graphql.Fields{
			"taskAdded":   &graphql.Field{Type: graphql.NewNonNull(taskType)},
			"taskUpdated": &graphql.Field{Type: graphql.NewNonNull(taskType)},
			"taskDeleted": &graphql.Field{Type: graphql.NewNonNull(graphql.ID)},
		},
	})

	return graphql.NewSchema(graphql.SchemaConfig{
		Query:        queryType,
		Mutation:     mutationType,
		Subscription: subscriptionType,
	})
}

func stringArg(args map[string]any, name string) string {
	s, _ := args[name].(string)
	return s
}
