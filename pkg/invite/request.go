package invite

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
)

// DefaultSubject is used when the event carries no subject.
const DefaultSubject = "Invitation to centry project"

// Event keys with a meaning of their own. Every other key becomes a template variable.
const (
	keyRecipients   = "recipients"
	keySubject      = "subject"
	keyOneRecipient = "one_recipient"
	keyOneRole      = "one_role"
	keyTemplateVars = "template_vars"
)

var reservedKeys = map[string]struct{}{
	keyRecipients:   {},
	keySubject:      {},
	keyOneRecipient: {},
	keyOneRole:      {},
	keyTemplateVars: {},
}

// Recipient is a send target. Identity is the email address; duplicates are
// not removed and receive one message each.
type Recipient struct {
	Email string
	Roles []string

	// attrs keeps every key of the recipient object so templates can reach
	// fields beyond email and roles.
	attrs map[string]any
}

// Vars returns the recipient as exposed to templates under "recipient".
func (r Recipient) Vars() map[string]any {
	vars := make(map[string]any, len(r.attrs)+2)
	maps.Copy(vars, r.attrs)
	vars["email"] = r.Email
	roles := r.Roles
	if roles == nil {
		roles = []string{}
	}
	vars["roles"] = roles
	return vars
}

// Request is the validated event, split into its parts. The event itself is
// never modified.
type Request struct {
	Recipients []Recipient
	Subject    string
	// Vars holds the extra event keys overlaid with template_vars.
	Vars map[string]any
}

// TemplateVars merges, in increasing precedence, the project id, the event
// variables and the recipient. Each call returns a fresh map.
func (r Request) TemplateVars(projectID string, rcpt Recipient) map[string]any {
	vars := make(map[string]any, len(r.Vars)+2)
	vars["project_id"] = projectID
	maps.Copy(vars, r.Vars)
	vars["recipient"] = rcpt.Vars()
	return vars
}

// ParseRequest validates an event and resolves its recipients: an explicit
// non-empty "recipients" list wins, otherwise the "one_recipient"/"one_role"
// shorthand is used. Anything without recipients wraps ErrInvalidInput.
func ParseRequest(payload []byte) (Request, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || isNull(trimmed) {
		return Request{}, fmt.Errorf("%w: empty event", ErrInvalidInput)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return Request{}, fmt.Errorf("%w: event is not a JSON object: %v", ErrInvalidInput, err)
	}
	if len(fields) == 0 {
		return Request{}, fmt.Errorf("%w: empty event", ErrInvalidInput)
	}

	recipients, err := parseRecipients(fields)
	if err != nil {
		return Request{}, err
	}

	subject := DefaultSubject
	if raw, ok := fields[keySubject]; ok && !isNull(raw) {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return Request{}, fmt.Errorf("%w: subject must be a string", ErrInvalidInput)
		}
		if s != "" {
			subject = s
		}
	}

	vars := make(map[string]any, len(fields))
	for key, raw := range fields {
		if _, reserved := reservedKeys[key]; reserved {
			continue
		}
		var v any
		if err := decode(raw, &v); err != nil {
			return Request{}, fmt.Errorf("%w: field %q: %v", ErrInvalidInput, key, err)
		}
		vars[key] = v
	}
	if raw, ok := fields[keyTemplateVars]; ok && !isNull(raw) {
		var tv map[string]any
		if err := decode(raw, &tv); err != nil {
			return Request{}, fmt.Errorf("%w: template_vars must be an object", ErrInvalidInput)
		}
		maps.Copy(vars, tv)
	}

	return Request{Recipients: recipients, Subject: subject, Vars: vars}, nil
}

func parseRecipients(fields map[string]json.RawMessage) ([]Recipient, error) {
	if raw, ok := fields[keyRecipients]; ok && !isNull(raw) {
		var list []map[string]any
		if err := decode(raw, &list); err != nil {
			return nil, fmt.Errorf("%w: recipients must be a list of objects", ErrInvalidInput)
		}
		if len(list) > 0 {
			recipients := make([]Recipient, 0, len(list))
			for _, attrs := range list {
				recipients = append(recipients, newRecipient(attrs))
			}
			return recipients, nil
		}
	}

	if raw, ok := fields[keyOneRecipient]; ok && !isNull(raw) {
		var email string
		if err := json.Unmarshal(raw, &email); err != nil {
			return nil, fmt.Errorf("%w: one_recipient must be a string", ErrInvalidInput)
		}
		if email != "" {
			roles := []string{}
			if rawRole, ok := fields[keyOneRole]; ok && !isNull(rawRole) {
				var role string
				if err := json.Unmarshal(rawRole, &role); err != nil {
					return nil, fmt.Errorf("%w: one_role must be a string", ErrInvalidInput)
				}
				if role != "" {
					roles = append(roles, role)
				}
			}
			return []Recipient{{
				Email: email,
				Roles: roles,
				attrs: map[string]any{"email": email, "roles": roles},
			}}, nil
		}
	}

	return nil, fmt.Errorf("%w: no recipients", ErrInvalidInput)
}

func newRecipient(attrs map[string]any) Recipient {
	r := Recipient{attrs: attrs}
	if email, ok := attrs["email"].(string); ok {
		r.Email = email
	}
	if roles, ok := attrs["roles"].([]any); ok {
		r.Roles = make([]string, 0, len(roles))
		for _, role := range roles {
			r.Roles = append(r.Roles, fmt.Sprint(role))
		}
	}
	return r
}

// decode keeps numbers as json.Number so templates print them verbatim.
func decode(raw []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	return dec.Decode(v)
}

func isNull(raw []byte) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
