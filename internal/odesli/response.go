package odesli

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Response is the subset of the aggregation API's links document the resolver consumes.
type Response struct {
	EntityUniqueID     string          `json:"entityUniqueId"`
	UserCountry        string          `json:"userCountry"`
	PageURL            string          `json:"pageUrl"`
	EntitiesByUniqueID Entities        `json:"entitiesByUniqueId"`
	LinksByPlatform    map[string]Link `json:"linksByPlatform"`
}

// Entity is a per-provider metadata record.
type Entity struct {
	ID           string `json:"id"`
	Type         string `json:"type"`
	Title        string `json:"title"`
	ArtistName   string `json:"artistName"`
	ThumbnailURL string `json:"thumbnailUrl"`
	APIProvider  string `json:"apiProvider"`
}

// Link is the per-platform target.
type Link struct {
	EntityUniqueID      string `json:"entityUniqueId"`
	URL                 string `json:"url"`
	NativeAppURIMobile  string `json:"nativeAppUriMobile"`
	NativeAppURIDesktop string `json:"nativeAppUriDesktop"`
}

// Entities keeps the entity map together with the order in which ids appeared in the document.
type Entities struct {
	order []string
	byID  map[string]Entity
}

// NewEntities builds an Entities value from ordered pairs. It is mainly useful in tests.
func NewEntities(ids []string, records []Entity) Entities {
	entities := Entities{byID: make(map[string]Entity, len(ids))}
	for index, id := range ids {
		if index >= len(records) {
			break
		}
		entities.put(id, records[index])
	}
	return entities
}

func (e *Entities) put(id string, entity Entity) {
	if e.byID == nil {
		e.byID = make(map[string]Entity)
	}
	if _, seen := e.byID[id]; !seen {
		e.order = append(e.order, id)
	}
	e.byID[id] = entity
}

// IDs returns entity ids in document order.
func (e Entities) IDs() []string {
	return append([]string(nil), e.order...)
}

// Get returns the entity stored under id.
func (e Entities) Get(id string) (Entity, bool) {
	entity, ok := e.byID[id]
	return entity, ok
}

// Len reports the number of entities.
func (e Entities) Len() int {
	return len(e.order)
}

// UnmarshalJSON decodes the object while recording key order.
func (e *Entities) UnmarshalJSON(data []byte) error {
	*e = Entities{}
	trimmed := bytes.TrimSpace(data)
	if bytes.Equal(trimmed, []byte("null")) {
		return nil
	}

	decoder := json.NewDecoder(bytes.NewReader(trimmed))
	token, err := decoder.Token()
	if err != nil {
		return err
	}
	if delim, ok := token.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("entitiesByUniqueId: expected object")
	}
	for decoder.More() {
		keyToken, err := decoder.Token()
		if err != nil {
			return err
		}
		key, ok := keyToken.(string)
		if !ok {
			return fmt.Errorf("entitiesByUniqueId: expected string key")
		}
		var entity Entity
		if err := decoder.Decode(&entity); err != nil {
			return fmt.Errorf("entitiesByUniqueId[%s]: %w", key, err)
		}
		e.put(key, entity)
	}
	_, err = decoder.Token()
	return err
}

// MarshalJSON writes entities back in document order.
func (e Entities) MarshalJSON() ([]byte, error) {
	var buffer bytes.Buffer
	buffer.WriteByte('{')
	for index, id := range e.order {
		if index > 0 {
			buffer.WriteByte(',')
		}
		key, err := json.Marshal(id)
		if err != nil {
			return nil, err
		}
		value, err := json.Marshal(e.byID[id])
		if err != nil {
			return nil, err
		}
		buffer.Write(key)
		buffer.WriteByte(':')
		buffer.Write(value)
	}
	buffer.WriteByte('}')
	return buffer.Bytes(), nil
}

// Decode parses a raw links document.
func Decode(raw []byte) (Response, error) {
	var response Response
	if err := json.Unmarshal(raw, &response); err != nil {
		return Response{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return response, nil
}
