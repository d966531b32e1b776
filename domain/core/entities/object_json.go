package entities

import (
	"bytes"
	"encoding/json"

	"instancegraph/domain/core/valueobjects"
	pkgerrors "instancegraph/pkg/errors"
)

type objectJSON struct {
	Namespace       string                  `json:"namespace"`
	ExternalID      string                  `json:"externalId"`
	Kind            string                  `json:"kind"`
	Version         int64                   `json:"version,omitempty"`
	ExistingVersion *int64                  `json:"existingVersion,omitempty"`
	Properties      map[string]interface{}  `json:"properties,omitempty"`
	Relations       map[string]relationJSON `json:"relations,omitempty"`
}

type relationJSON struct {
	EdgeType  valueobjects.EntityRef `json:"edgeType"`
	Direction valueobjects.Direction `json:"direction"`
	Values    []json.RawMessage      `json:"values"`
}

// MarshalJSON renders the object tree. An object already being rendered higher
// up the same path is written as a bare ref so cyclic graphs terminate.
func (o *DomainObject) MarshalJSON() ([]byte, error) {
	return marshalObject(o, make(map[valueobjects.EntityRef]bool))
}

func marshalObject(o *DomainObject, onPath map[valueobjects.EntityRef]bool) ([]byte, error) {
	onPath[o.Ref] = true
	defer delete(onPath, o.Ref)

	out := objectJSON{
		Namespace:       o.Ref.Namespace,
		ExternalID:      o.Ref.ExternalID,
		Kind:            o.Kind,
		Version:         o.Version,
		ExistingVersion: o.ExistingVersion,
		Properties:      o.Properties,
	}
	if len(o.Relations) > 0 {
		out.Relations = make(map[string]relationJSON, len(o.Relations))
	}
	for field, rel := range o.Relations {
		values := make([]json.RawMessage, 0, len(rel.Values))
		for _, v := range rel.Values {
			if !v.Valid() {
				return nil, pkgerrors.NewTypeMismatchError(field, v.Describe())
			}
			var (
				raw []byte
				err error
			)
			if v.IsObject() && !onPath[v.Ref()] {
				raw, err = marshalObject(v.Object(), onPath)
			} else {
				raw, err = json.Marshal(v.Ref())
			}
			if err != nil {
				return nil, err
			}
			values = append(values, raw)
		}
		out.Relations[field] = relationJSON{EdgeType: rel.EdgeType, Direction: rel.Direction, Values: values}
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes an object tree. Each relation value must be either a
// ref ({"namespace","externalId"} only) or an object carrying kind, properties
// or relations; anything else is a TypeMismatch.
func (o *DomainObject) UnmarshalJSON(data []byte) error {
	var in objectJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return pkgerrors.NewTypeMismatchError("object", err.Error())
	}

	ref, err := valueobjects.NewEntityRef(in.Namespace, in.ExternalID)
	if err != nil {
		return pkgerrors.NewTypeMismatchError("object", err.Error())
	}

	*o = DomainObject{
		Ref:             ref,
		Kind:            in.Kind,
		Version:         in.Version,
		ExistingVersion: in.ExistingVersion,
		Properties:      in.Properties,
		Relations:       make(map[string]Relation, len(in.Relations)),
	}
	if o.Properties == nil {
		o.Properties = make(map[string]interface{})
	}

	for field, rel := range in.Relations {
		if rel.Direction == valueobjects.DirectionNone {
			rel.Direction = valueobjects.DirectionOutwards
		}
		decoded := Relation{EdgeType: rel.EdgeType, Direction: rel.Direction}
		for _, raw := range rel.Values {
			v, err := unmarshalValue(field, raw)
			if err != nil {
				return err
			}
			decoded.Values = append(decoded.Values, v)
		}
		o.Relations[field] = decoded
	}
	return nil
}

func unmarshalValue(field string, raw json.RawMessage) (RelationValue, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return RelationValue{}, pkgerrors.NewTypeMismatchError(field, string(trimmed))
	}

	var keys map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &keys); err != nil {
		return RelationValue{}, pkgerrors.NewTypeMismatchError(field, err.Error())
	}

	_, hasKind := keys["kind"]
	_, hasProps := keys["properties"]
	_, hasRels := keys["relations"]
	if hasKind || hasProps || hasRels {
		obj := &DomainObject{}
		if err := obj.UnmarshalJSON(trimmed); err != nil {
			return RelationValue{}, err
		}
		return ObjectValue(obj), nil
	}

	_, hasNS := keys["namespace"]
	_, hasID := keys["externalId"]
	if len(keys) != 2 || !hasNS || !hasID {
		return RelationValue{}, pkgerrors.NewTypeMismatchError(field, string(trimmed))
	}
	var ref valueobjects.EntityRef
	if err := json.Unmarshal(trimmed, &ref); err != nil {
		return RelationValue{}, pkgerrors.NewTypeMismatchError(field, err.Error())
	}
	if err := ref.Validate(); err != nil {
		return RelationValue{}, pkgerrors.NewTypeMismatchError(field, err.Error())
	}
	return RefValue(ref), nil
}
