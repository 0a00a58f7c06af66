package api

import (
	"encoding/json"
	"net/http"

	"github.com/erazemk/bazaar/internal/model"
)

// jsonResponse writes a JSON response with the given status code.
func jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// jsonError writes a JSON error response.
func jsonError(w http.ResponseWriter, status int, message string) {
	jsonResponse(w, status, map[string]string{"error": message})
}

// decodeJSON decodes a JSON request body into the given target.
func decodeJSON(r *http.Request, target any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(target)
}

// itemJSON is an item as the API shows it, identity included.
type itemJSON struct {
	ID         string          `json:"id"`
	Owner      string          `json:"owner"`
	Name       string          `json:"name"`
	Condition  model.Condition `json:"condition"`
	Label      string          `json:"label"`
	Suggestion string          `json:"suggestion,omitempty"`
	Type       string          `json:"type"`
	Pic        string          `json:"pic"`
	UserID     string          `json:"userId"`
	Email      string          `json:"email,omitempty"`
	Timestamp  string          `json:"timestamp"`
}

func toJSON(item model.Item) itemJSON {
	return itemJSON{
		ID:         item.ID,
		Owner:      item.Owner,
		Name:       item.Name,
		Condition:  item.Condition,
		Label:      item.Condition.Label(),
		Suggestion: item.Condition.Suggestion(),
		Type:       item.Type,
		Pic:        item.Pic,
		UserID:     item.UserID,
		Email:      item.Email,
		Timestamp:  item.Timestamp,
	}
}

func itemsJSON(items []model.Item) []itemJSON {
	out := make([]itemJSON, len(items))
	for i, item := range items {
		out[i] = toJSON(item)
	}
	return out
}
