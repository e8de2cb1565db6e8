package server

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/mohammed-shakir/gbfs-spatial-cache/internal/core/model"
	"github.com/mohammed-shakir/gbfs-spatial-cache/internal/service"
)

const (
	maxRangeMeters = 50_000
	maxCount       = 1000
)

// validates user input for /vehicles/nearby and returns normalized query
// parameters and filters
func ParseNearbyRequest(r *http.Request) (service.QueryParams, service.VehicleFilters, error) {
	q := r.URL.Query()

	lon, err := requiredFloat(q.Get("lon"), "lon")
	if err != nil {
		return service.QueryParams{}, service.VehicleFilters{}, err
	}
	if lon < -180 || lon > 180 {
		return service.QueryParams{}, service.VehicleFilters{}, errors.New("lon must be in [-180,180]")
	}

	lat, err := requiredFloat(q.Get("lat"), "lat")
	if err != nil {
		return service.QueryParams{}, service.VehicleFilters{}, err
	}
	if lat < -90 || lat > 90 {
		return service.QueryParams{}, service.VehicleFilters{}, errors.New("lat must be in [-90,90]")
	}

	rng, err := requiredFloat(q.Get("range"), "range")
	if err != nil {
		return service.QueryParams{}, service.VehicleFilters{}, err
	}
	if rng <= 0 || rng > maxRangeMeters {
		return service.QueryParams{}, service.VehicleFilters{}, fmt.Errorf("range must be in (0,%d] meters", maxRangeMeters)
	}

	count := 0
	if raw := strings.TrimSpace(q.Get("count")); raw != "" {
		count, err = strconv.Atoi(raw)
		if err != nil || count <= 0 || count > maxCount {
			return service.QueryParams{}, service.VehicleFilters{}, fmt.Errorf("count must be an integer in [1,%d]", maxCount)
		}
	}

	filters := service.VehicleFilters{
		Operators:       splitParam(q.Get("operators")),
		Codespaces:      splitParam(q.Get("codespaces")),
		IncludeReserved: boolParam(q.Get("includeReserved")),
		IncludeDisabled: boolParam(q.Get("includeDisabled")),
	}
	for _, v := range splitParam(q.Get("formFactors")) {
		filters.FormFactors = append(filters.FormFactors, model.FormFactor(strings.ToUpper(v)))
	}
	for _, v := range splitParam(q.Get("propulsionTypes")) {
		filters.PropulsionTypes = append(filters.PropulsionTypes, model.PropulsionType(strings.ToUpper(v)))
	}

	return service.QueryParams{Lon: lon, Lat: lat, Range: rng, Count: count}, filters, nil
}

func requiredFloat(raw, name string) (float64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, fmt.Errorf("missing required parameter: %s", name)
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	return f, nil
}

func splitParam(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func boolParam(raw string) bool {
	b, err := strconv.ParseBool(strings.TrimSpace(raw))
	return err == nil && b
}
