package domain

import (
	"encoding/json"
	"time"
)

// MuteInput mutes an issue, optionally installing volume-based unmute
// conditions and/or an unmute deadline
type MuteInput struct {
	UnmuteOnVolumeBasedConditions []MuteCondition `json:"unmute_on_volume_based_conditions" validate:"omitempty,dive"`
	UnmuteAfter                   *time.Time      `json:"unmute_after" validate:"omitempty"`
}

// MuteCondition is the wire form of one VolumeBasedCondition
type MuteCondition struct {
	Period      string `json:"period"        validate:"required,oneof=total year month day hour minute" example:"hour"`
	NrOfPeriods int    `json:"nr_of_periods" validate:"required,min=1,max=1000" example:"24"`
	Volume      int    `json:"volume"        validate:"required,min=1" example:"100"`
}

// ConditionsJSON renders the conditions in the stored format, "[]" for none
func (in MuteInput) ConditionsJSON() (string, error) {
	vbcs := make([]VolumeBasedCondition, 0, len(in.UnmuteOnVolumeBasedConditions))
	for _, c := range in.UnmuteOnVolumeBasedConditions {
		vbcs = append(vbcs, VolumeBasedCondition{
			Period:      c.Period,
			NrOfPeriods: c.NrOfPeriods,
			Volume:      c.Volume,
		})
	}
	b, err := json.Marshal(vbcs)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
