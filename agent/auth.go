package agent

import "context"

// HeaderSetter and QuerySetter let ApplyAuthOverride apply credentials onto
// whatever outbound request shape a ToolProvider's HTTP invocation layer
// uses, without this package needing to know about it (spec §4.9 — OpenAPI
// invocation is an external collaborator, specified only by its interface).
type HeaderSetter func(name, value string)
type QuerySetter func(name, value string)

// ResolveAuthOverride looks up the per-request override for providerID on
// the current run, if any.
func ResolveAuthOverride(actx *AgentContext, providerID string) (AuthOverride, bool) {
	if actx.Config.RequestAuthOverrides == nil {
		return AuthOverride{}, false
	}
	override, ok := actx.Config.RequestAuthOverrides[providerID]
	return override, ok
}

// ApplyAuthOverride applies providerID's auth override (if present) to an
// outbound tool invocation via setHeader/setQuery, instead of whatever
// static authentication the provider would otherwise use for this call.
// It never mutates the provider's default state: absent an override, it is
// a no-op and the caller falls back to the provider's own static auth.
func ApplyAuthOverride(ctx context.Context, actx *AgentContext, providerID string, setHeader HeaderSetter, setQuery QuerySetter) error {
	override, ok := ResolveAuthOverride(actx, providerID)
	if !ok {
		return nil
	}

	switch override.Kind {
	case AuthNone, "":
		return nil

	case AuthBearer:
		token := override.BearerToken
		if override.BearerProducer != nil {
			t, err := override.BearerProducer(ctx)
			if err != nil {
				return &CoreError{Kind: ErrConfiguration, Message: "resolving bearer token override", Cause: err}
			}
			token = t
		}
		if token == "" {
			return &CoreError{Kind: ErrConfiguration, Message: "bearer auth override resolved to an empty token"}
		}
		setHeader("Authorization", "Bearer "+token)
		return nil

	case AuthAPIKey:
		if override.APIKeyName == "" {
			return &CoreError{Kind: ErrConfiguration, Message: "api_key auth override missing a key name"}
		}
		switch override.APIKeyLocation {
		case AuthLocationQuery:
			setQuery(override.APIKeyName, override.APIKeyValue)
		default:
			setHeader(override.APIKeyName, override.APIKeyValue)
		}
		return nil

	default:
		return &CoreError{Kind: ErrConfiguration, Message: "unknown auth override kind"}
	}
}
