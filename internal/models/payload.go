package models

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Payload is the typed body of a queued mutation. Each entity type has
// exactly one payload shape.
type Payload interface {
	EntityType() EntityType
	EntityID() string
}

// PunchPayload carries a punch mutation
type PunchPayload struct {
	Punch PunchRecord `json:"punch"`
}

func (p *PunchPayload) EntityType() EntityType { return EntityPunch }
func (p *PunchPayload) EntityID() string       { return p.Punch.ID }

// UserPayload carries a user mutation
type UserPayload struct {
	User User `json:"user"`
}

func (p *UserPayload) EntityType() EntityType { return EntityUser }
func (p *UserPayload) EntityID() string       { return p.User.ID }

// GeofencePayload carries a geofence mutation
type GeofencePayload struct {
	Geofence Geofence `json:"geofence"`
}

func (p *GeofencePayload) EntityType() EntityType { return EntityGeofence }
func (p *GeofencePayload) EntityID() string       { return p.Geofence.ID }

// DepartmentPayload carries a department mutation
type DepartmentPayload struct {
	Department Department `json:"department"`
}

func (p *DepartmentPayload) EntityType() EntityType { return EntityDepartment }
func (p *DepartmentPayload) EntityID() string       { return p.Department.ID }

// ValidatePayload checks a payload before it is enqueued. Deletes only need
// an entity id; creates and updates must carry a complete record.
func ValidatePayload(action Action, p Payload) error {
	if p == nil {
		return fmt.Errorf("nil payload")
	}
	if !action.Valid() {
		return fmt.Errorf("invalid action %q", action)
	}
	if p.EntityID() == "" {
		return fmt.Errorf("%s payload: empty entity id", p.EntityType())
	}
	if action == ActionDelete {
		return nil
	}

	switch v := p.(type) {
	case *PunchPayload:
		return validate.Struct(&v.Punch)
	case *UserPayload:
		return validate.Struct(&v.User)
	case *GeofencePayload:
		return v.Geofence.Validate()
	case *DepartmentPayload:
		return validate.Struct(&v.Department)
	default:
		return fmt.Errorf("unsupported payload type %T", p)
	}
}

// EncodePayload serializes a payload for storage
func EncodePayload(p Payload) ([]byte, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", p.EntityType(), err)
	}
	return data, nil
}

// DecodePayload restores the typed payload stored for an entity type
func DecodePayload(entityType EntityType, data []byte) (Payload, error) {
	var p Payload
	switch entityType {
	case EntityPunch:
		p = &PunchPayload{}
	case EntityUser:
		p = &UserPayload{}
	case EntityGeofence:
		p = &GeofencePayload{}
	case EntityDepartment:
		p = &DepartmentPayload{}
	default:
		return nil, fmt.Errorf("unknown entity type %q", entityType)
	}
	if err := json.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("unmarshal %s payload: %w", entityType, err)
	}
	return p, nil
}
