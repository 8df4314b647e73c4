package logging

import "log/slog"

const (
	FieldTripRequestID  = "trip_request_id"
	FieldDistributionID = "distribution_id"
	FieldAgencyID       = "agency_id"
	FieldTarget         = "target"
	FieldError          = "error"
	FieldAttempt        = "attempt"
	FieldComponent      = "component"
)

func TripRequestID(id string) slog.Attr {
	return slog.String(FieldTripRequestID, id)
}

func DistributionID(id string) slog.Attr {
	return slog.String(FieldDistributionID, id)
}

func AgencyID(id string) slog.Attr {
	return slog.String(FieldAgencyID, id)
}

func Target(target string) slog.Attr {
	return slog.String(FieldTarget, target)
}

// Error returns an error attribute. A nil error is logged as an empty string.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(FieldError, "")
	}
	return slog.String(FieldError, err.Error())
}

func Attempt(n int) slog.Attr {
	return slog.Int(FieldAttempt, n)
}

func Component(name string) slog.Attr {
	return slog.String(FieldComponent, name)
}
