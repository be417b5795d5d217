package validation

import (
	"reflect"
	"strings"

	validatorv10 "github.com/go-playground/validator/v10"
)

// New returns a configured validator with custom struct-level validation registered.
// Field errors are reported under their JSON names.
func New() *validatorv10.Validate {
	v := validatorv10.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})

	// all waivers must be accepted before a checkout is opened
	v.RegisterStructValidation(intakeStructValidation, IntakeRequest{})

	return v
}

// bodyRange is the accepted height (cm) and weight (kg) window for one unit system. Imperial
// bounds are the form's 3.0-8.5 ft and 65-660 lb after rounding to cm and kg.
type bodyRange struct {
	minHeight, maxHeight float64
	minWeight, maxWeight float64
}

var bodyRanges = map[string]bodyRange{
	"metric":   {minHeight: 100, maxHeight: 250, minWeight: 30, maxWeight: 300},
	"imperial": {minHeight: 91, maxHeight: 259, minWeight: 29, maxWeight: 299},
}

func intakeStructValidation(sl validatorv10.StructLevel) {
	req := sl.Current().Interface().(IntakeRequest)
	if !req.WaiversAccepted {
		sl.ReportError(req.WaiversAccepted, "waivers_accepted", "WaiversAccepted", "waivers_accepted", "")
	}

	units := req.UnitsPreference
	if units == "" {
		units = "metric"
	}
	br, ok := bodyRanges[units]
	if !ok {
		return
	}
	if h := float64(req.Height); h != 0 && (h < br.minHeight || h > br.maxHeight) {
		sl.ReportError(req.Height, "height", "Height", "unit_range", units)
	}
	if w := float64(req.Weight); w != 0 && (w < br.minWeight || w > br.maxWeight) {
		sl.ReportError(req.Weight, "weight", "Weight", "unit_range", units)
	}
}
