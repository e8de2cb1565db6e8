// Package spatialid encodes vehicle attributes into the opaque member id
// stored in the spatial index.
//
// Embedding the filterable attributes in the member itself lets the nearby
// query engine evaluate filters before touching the vehicle cache, instead of
// doing one point-lookup per candidate just to test a predicate.
package spatialid

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/mohammed-shakir/gbfs-spatial-cache/internal/core/model"
)

const delimiter = "_"

const segments = 7

// ErrDecode tags any malformed or truncated spatial member id. Callers must
// treat it as skip-and-log, never as a partial result.
var ErrDecode = errors.New("malformed spatial index id")

// ID is the decoded form of a spatial index member.
type ID struct {
	Operator       string
	Codespace      string
	VehicleID      string
	FormFactor     model.FormFactor
	PropulsionType model.PropulsionType
	Reserved       bool
	Disabled       bool
}

// CacheKey is the provider-qualified vehicle cache key for this id.
func (id ID) CacheKey() string {
	return id.Operator + delimiter + id.VehicleID
}

// FromVehicle builds the spatial id for a vehicle owned by the given provider.
func FromVehicle(v model.Vehicle, p model.FeedProvider) ID {
	return ID{
		Operator:       p.Name,
		Codespace:      p.Codespace,
		VehicleID:      v.ID,
		FormFactor:     v.FormFactor,
		PropulsionType: v.PropulsionType,
		Reserved:       v.IsReserved,
		Disabled:       v.IsDisabled,
	}
}

// Encode renders the id as the delimited member string. Fields containing the
// delimiter are rejected rather than escaped.
func Encode(id ID) (string, error) {
	fields := []string{
		id.Operator,
		id.Codespace,
		id.VehicleID,
		string(id.FormFactor),
		string(id.PropulsionType),
		strconv.FormatBool(id.Reserved),
		strconv.FormatBool(id.Disabled),
	}
	for i, f := range fields {
		if f == "" {
			return "", fmt.Errorf("spatial id segment %d is empty", i)
		}
		if strings.Contains(f, delimiter) {
			return "", fmt.Errorf("spatial id segment %d contains delimiter %q: %q", i, delimiter, f)
		}
	}
	return strings.Join(fields, delimiter), nil
}

// Decode parses a spatial index member. It is total: any malformed input
// yields ErrDecode, never a partially-filled ID.
func Decode(s string) (ID, error) {
	parts := strings.Split(s, delimiter)
	if len(parts) != segments {
		return ID{}, fmt.Errorf("%w: %d segments in %q", ErrDecode, len(parts), s)
	}
	for i, p := range parts {
		if p == "" {
			return ID{}, fmt.Errorf("%w: empty segment %d in %q", ErrDecode, i, s)
		}
	}
	reserved, err := strconv.ParseBool(parts[5])
	if err != nil {
		return ID{}, fmt.Errorf("%w: reserved flag in %q", ErrDecode, s)
	}
	disabled, err := strconv.ParseBool(parts[6])
	if err != nil {
		return ID{}, fmt.Errorf("%w: disabled flag in %q", ErrDecode, s)
	}
	return ID{
		Operator:       parts[0],
		Codespace:      parts[1],
		VehicleID:      parts[2],
		FormFactor:     model.FormFactor(parts[3]),
		PropulsionType: model.PropulsionType(parts[4]),
		Reserved:       reserved,
		Disabled:       disabled,
	}, nil
}

// Operator extracts the provider name from any delimited id or cache key
// without a full decode.
func Operator(s string) (string, error) {
	name, _, found := strings.Cut(s, delimiter)
	if !found || name == "" {
		return "", fmt.Errorf("%w: no operator segment in %q", ErrDecode, s)
	}
	return name, nil
}
