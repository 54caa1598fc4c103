package authstate

import (
	"encoding/json"
	"fmt"
	"maps"
)

// User is the authenticated account as returned by the backend. Fields the
// backend sends beyond id, name and email are kept in Extra and written
// back unchanged.
type User struct {
	ID    int64                      `json:"id" validate:"required"`
	Name  string                     `json:"name,omitempty"`
	Email string                     `json:"email,omitempty"`
	Extra map[string]json.RawMessage `json:"-"`
}

// CompleteUserData is the envelope persisted under UserKey
type CompleteUserData struct {
	User    *User  `json:"user" validate:"required"`
	Message string `json:"message"`
}

var knownUserFields = []string{"id", "name", "email"}

// MarshalJSON writes the known fields followed by the extension fields
func (u User) MarshalJSON() ([]byte, error) {
	fields := make(map[string]json.RawMessage, len(u.Extra)+len(knownUserFields))
	maps.Copy(fields, u.Extra)

	id, err := json.Marshal(u.ID)
	if err != nil {
		return nil, err
	}
	fields["id"] = id
	if u.Name != "" {
		fields["name"], _ = json.Marshal(u.Name)
	}
	if u.Email != "" {
		fields["email"], _ = json.Marshal(u.Email)
	}

	return json.Marshal(fields)
}

// UnmarshalJSON reads the known fields and keeps the rest in Extra
func (u *User) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return fmt.Errorf("user must be a JSON object: %w", err)
	}

	var known struct {
		ID    json.Number `json:"id"`
		Name  *string     `json:"name"`
		Email *string     `json:"email"`
	}
	if err := json.Unmarshal(data, &known); err != nil {
		return fmt.Errorf("invalid user: %w", err)
	}

	*u = User{}
	if known.ID != "" {
		id, err := known.ID.Int64()
		if err != nil {
			return fmt.Errorf("invalid user id %q: %w", known.ID, err)
		}
		u.ID = id
	}
	if known.Name != nil {
		u.Name = *known.Name
	}
	if known.Email != nil {
		u.Email = *known.Email
	}

	for _, name := range knownUserFields {
		delete(fields, name)
	}
	if len(fields) > 0 {
		u.Extra = fields
	}
	return nil
}
