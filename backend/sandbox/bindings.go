package sandbox

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/furisto/dispatch/backend/resource"
	"github.com/grafana/sobek"
)

// Binding is a host function exposed to scripts under Name.
type Binding struct {
	Name        string
	Description string
	Handler     BindingHandler
}

const (
	BindingListAccounts   = "listAccounts"
	BindingListRegions    = "listRegions"
	BindingQueryResources = "queryResources"
	BindingQueryLogEvents = "queryCloudWatchLogEvents"
	BindingGetAuditEvents = "getCloudTrailEvents"
)

// ResourceBindings returns the whitelisted functions backed by backend. No
// other host capability is reachable from a script.
func ResourceBindings(backend resource.Backend) []*Binding {
	return []*Binding{
		{
			Name:        BindingListAccounts,
			Description: "listAccounts() returns the configured AWS accounts as [{id, name, alias, email}].",
			Handler: func(session *Session) func(sobek.FunctionCall) sobek.Value {
				return func(call sobek.FunctionCall) sobek.Value {
					accounts, err := backend.ListAccounts(session.Context)
					if err != nil {
						session.Throw(err)
					}
					return toJSValue(session, accounts)
				}
			},
		},
		{
			Name:        BindingListRegions,
			Description: "listRegions() returns the known AWS regions as [{code, name}].",
			Handler: func(session *Session) func(sobek.FunctionCall) sobek.Value {
				return func(call sobek.FunctionCall) sobek.Value {
					regions, err := backend.ListRegions(session.Context)
					if err != nil {
						session.Throw(err)
					}
					return toJSValue(session, regions)
				}
			},
		},
		{
			Name: BindingQueryResources,
			Description: "queryResources({accounts?, regions?, resourceTypes}) returns the matching resources. " +
				"Without accounts the first account is used, without regions us-east-1.",
			Handler: func(session *Session) func(sobek.FunctionCall) sobek.Value {
				return func(call sobek.FunctionCall) sobek.Value {
					var query resource.ResourceQuery
					parseArgument(session, call, BindingQueryResources, &query)

					resources, err := backend.QueryResources(session.Context, query)
					if err != nil {
						session.Throw(err)
					}
					return toJSValue(session, resources)
				}
			},
		},
		{
			Name: BindingQueryLogEvents,
			Description: "queryCloudWatchLogEvents({logGroupName, accountId, region, startTime?, endTime?, filterPattern?, " +
				"limit?, logStreamNames?, startFromHead?}) returns {events, nextToken, totalEvents, statistics}.",
			Handler: func(session *Session) func(sobek.FunctionCall) sobek.Value {
				return func(call sobek.FunctionCall) sobek.Value {
					var query resource.LogQuery
					parseArgument(session, call, BindingQueryLogEvents, &query)

					result, err := backend.QueryLogEvents(session.Context, query)
					if err != nil {
						session.Throw(fmt.Errorf("CloudWatch Logs query failed: %w", err))
					}
					return toJSValue(session, result)
				}
			},
		},
		{
			Name: BindingGetAuditEvents,
			Description: "getCloudTrailEvents({accountId, region, startTime?, endTime?, lookupAttributes?, maxResults?, " +
				"nextToken?}) returns {events, nextToken, totalEvents}.",
			Handler: func(session *Session) func(sobek.FunctionCall) sobek.Value {
				return func(call sobek.FunctionCall) sobek.Value {
					var query resource.AuditQuery
					parseArgument(session, call, BindingGetAuditEvents, &query)

					result, err := backend.LookupAuditEvents(session.Context, query)
					if err != nil {
						session.Throw(fmt.Errorf("CloudTrail lookup failed: %w", err))
					}
					return toJSValue(session, result)
				}
			},
		},
	}
}

// parseArgument decodes the first argument into target by way of its JSON
// form, which keeps the script-facing field names identical to the wire
// names of the resource types.
func parseArgument(session *Session, call sobek.FunctionCall, name string, target any) {
	arg := call.Argument(0)
	if sobek.IsUndefined(arg) || sobek.IsNull(arg) {
		panic(session.VM.NewTypeError("%s() requires an object argument", name))
	}
	obj, ok := arg.(*sobek.Object)
	if !ok {
		panic(session.VM.NewTypeError("%s() requires an object argument", name))
	}

	encoded, err := obj.MarshalJSON()
	if err != nil {
		session.Throw(fmt.Errorf("failed to stringify arguments: %w", err))
	}
	if err := json.Unmarshal(encoded, target); err != nil {
		session.Throw(fmt.Errorf("failed to parse arguments: %w", err))
	}
}

// toJSValue hands value to the script as plain JS data so scripts can mutate
// and re-serialise it freely.
func toJSValue(session *Session, value any) sobek.Value {
	encoded, err := json.Marshal(value)
	if err != nil {
		session.Throw(fmt.Errorf("failed to serialize result: %w", err))
	}

	parse, ok := sobek.AssertFunction(session.VM.Get("JSON").ToObject(session.VM).Get("parse"))
	if !ok {
		session.Throw(errors.New("JSON.parse is not available"))
	}

	parsed, err := parse(sobek.Undefined(), session.VM.ToValue(string(encoded)))
	if err != nil {
		session.Throw(err)
	}
	return parsed
}
