// Package model defines core domain types shared across the service.
package model

import "fmt"

type FormFactor string

const (
	FormFactorBicycle FormFactor = "BICYCLE"
	FormFactorScooter FormFactor = "SCOOTER"
	FormFactorCar     FormFactor = "CAR"
	FormFactorMoped   FormFactor = "MOPED"
	FormFactorOther   FormFactor = "OTHER"
)

type PropulsionType string

const (
	PropulsionHuman          PropulsionType = "HUMAN"
	PropulsionElectricAssist PropulsionType = "ELECTRIC_ASSIST"
	PropulsionElectric       PropulsionType = "ELECTRIC"
	PropulsionCombustion     PropulsionType = "COMBUSTION"
)

// Vehicle is a single rentable unit as last reported by its operator.
// Overwritten wholesale on every feed fetch, never partially merged.
type Vehicle struct {
	ID                 string         `json:"id"`
	Operator           string         `json:"operator"`
	Lon                float64        `json:"lon"`
	Lat                float64        `json:"lat"`
	FormFactor         FormFactor     `json:"form_factor"`
	PropulsionType     PropulsionType `json:"propulsion_type"`
	IsReserved         bool           `json:"is_reserved"`
	IsDisabled         bool           `json:"is_disabled"`
	CurrentRangeMeters float64        `json:"current_range_meters,omitempty"`
	PricingPlanID      string         `json:"pricing_plan_id,omitempty"`
}

// FeedProvider identifies one operator's feed source. Loaded once from
// configuration and read-only afterwards.
type FeedProvider struct {
	Name      string `yaml:"name" validate:"required"`
	Codespace string `yaml:"codespace" validate:"required"`
	SystemID  string `yaml:"systemId" validate:"required"`
	Language  string `yaml:"language" validate:"required"`
	URL       string `yaml:"url" validate:"required,url"`
}

func (p FeedProvider) String() string {
	return fmt.Sprintf("%s/%s", p.Codespace, p.Name)
}

// FeedType names one GBFS document kind within a provider's feed set.
type FeedType string

const (
	FeedDiscovery          FeedType = "gbfs"
	FeedSystemInformation  FeedType = "system_information"
	FeedVehicleTypes       FeedType = "vehicle_types"
	FeedFreeBikeStatus     FeedType = "free_bike_status"
	FeedStationInformation FeedType = "station_information"
	FeedStationStatus      FeedType = "station_status"
	FeedSystemPricingPlans FeedType = "system_pricing_plans"
	FeedGeofencingZones    FeedType = "geofencing_zones"
)

// DiscoveryFeed is the minimal shape of a GBFS auto-discovery document the
// scheduler needs: which feeds exist and where to fetch them.
type DiscoveryFeed struct {
	LastUpdated int64                        `json:"last_updated"`
	TTL         int64                        `json:"ttl"`
	Data        map[string]DiscoveryFeedList `json:"data"`
}

type DiscoveryFeedList struct {
	Feeds []DiscoveryFeedRef `json:"feeds"`
}

type DiscoveryFeedRef struct {
	Name FeedType `json:"name"`
	URL  string   `json:"url"`
}

// FeedsForLanguage returns the feed list declared for the given language, or
// nil when the discovery document does not carry one.
func (d DiscoveryFeed) FeedsForLanguage(lang string) []DiscoveryFeedRef {
	if d.Data == nil {
		return nil
	}
	l, ok := d.Data[lang]
	if !ok {
		return nil
	}
	return l.Feeds
}
