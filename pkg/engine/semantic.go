package engine

import (
	"context"
)

// Default selector alternatives used by the semantic actions when the
// workflow does not override them. Multi-candidate on purpose: the poller
// shares the budget across them.
const (
	defaultUsernameSelector = `#username, input[name="username"], input[type="email"]`
	defaultPasswordSelector = `#password, input[name="password"], input[type="password"]`
	defaultSubmitSelector   = `button[type="submit"], input[type="submit"], #login-button`
	defaultSearchSelector   = `input[type="search"], #search, input[name="q"]`
	defaultSearchSubmit     = `button[type="submit"], #search-button`
)

// runLogin is the login semantic action. It expands into an atomic
// navigate/fill/fill/click/wait_for sub-sequence; every sub-action passes
// through the guard and the candidate poller exactly like a DSL-level step.
// The whole expansion shares the composite step's deadline.
func runLogin(ctx context.Context, exec *Execution, params Value) error {
	username, ok := paramString(params, "username")
	if !ok {
		return NewConfigurationError("login requires a username parameter", nil).
			WithCode(ErrCodeValidation)
	}
	password, ok := paramString(params, "password")
	if !ok {
		return NewConfigurationError("login requires a password parameter", nil).
			WithCode(ErrCodeValidation)
	}

	if url, present := paramString(params, "url"); present && url != "" {
		err := exec.RunAction(ctx, ActionNavigate, MapValue(map[string]Value{
			"url": StringValue(url),
		}))
		if err != nil {
			return err
		}
	}

	usernameSel := selectorOrDefault(params, "username_selector", defaultUsernameSelector)
	passwordSel := selectorOrDefault(params, "password_selector", defaultPasswordSelector)
	submitSel := selectorOrDefault(params, "submit_selector", defaultSubmitSelector)

	err := exec.RunAction(ctx, ActionFill, MapValue(map[string]Value{
		"selector": StringValue(usernameSel),
		"text":     StringValue(username),
	}))
	if err != nil {
		return err
	}

	err = exec.RunAction(ctx, ActionFill, MapValue(map[string]Value{
		"selector": StringValue(passwordSel),
		"text":     StringValue(password),
	}))
	if err != nil {
		return err
	}

	err = exec.RunAction(ctx, ActionClick, MapValue(map[string]Value{
		"selector": StringValue(submitSel),
	}))
	if err != nil {
		return err
	}

	if successSel, present := paramString(params, "success_selector"); present && successSel != "" {
		err := exec.RunAction(ctx, ActionWaitFor, MapValue(map[string]Value{
			"selector": StringValue(successSel),
		}))
		if err != nil {
			return err
		}
	}

	exec.Context().Set("logged_in_user", StringValue(username))
	return nil
}

// runSearch is the search semantic action: fill the search input, submit,
// optionally wait for results.
func runSearch(ctx context.Context, exec *Execution, params Value) error {
	query, ok := paramString(params, "query")
	if !ok {
		return NewConfigurationError("search requires a query parameter", nil).
			WithCode(ErrCodeValidation)
	}

	if url, present := paramString(params, "url"); present && url != "" {
		err := exec.RunAction(ctx, ActionNavigate, MapValue(map[string]Value{
			"url": StringValue(url),
		}))
		if err != nil {
			return err
		}
	}

	inputSel := selectorOrDefault(params, "input_selector", defaultSearchSelector)
	submitSel := selectorOrDefault(params, "submit_selector", defaultSearchSubmit)

	err := exec.RunAction(ctx, ActionFill, MapValue(map[string]Value{
		"selector": StringValue(inputSel),
		"text":     StringValue(query),
	}))
	if err != nil {
		return err
	}

	// An explicitly empty submit_selector skips the submit click for pages
	// that search as you type.
	if submitSel != "" {
		err = exec.RunAction(ctx, ActionClick, MapValue(map[string]Value{
			"selector": StringValue(submitSel),
		}))
		if err != nil {
			return err
		}
	}

	if resultsSel, present := paramString(params, "results_selector"); present && resultsSel != "" {
		err := exec.RunAction(ctx, ActionWaitFor, MapValue(map[string]Value{
			"selector": StringValue(resultsSel),
		}))
		if err != nil {
			return err
		}
	}

	exec.Context().Set("last_search_query", StringValue(query))
	return nil
}

// selectorOrDefault reads an override selector from params, falling back to
// the default alternatives. An explicitly empty override is returned as-is so
// callers can distinguish "skip" from "unset".
func selectorOrDefault(params Value, key, fallback string) string {
	if v := params.Get(key); !v.IsNull() {
		return v.Text()
	}
	return fallback
}
