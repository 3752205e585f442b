package engine_test

import (
	"errors"
	"testing"
	"time"

	"github.com/CitizenCafe-LLC/citizenspace-sub001/engine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewBookingRequest_Valid(t *testing.T) {
	req, err := engine.NewBookingRequest(engine.DefaultRules(), hotDesk(), "member-1", at(9, 0), at(12, 0))
	require.NoError(t, err)

	assertDecimal(t, "3", req.Duration())
	assert.Equal(t, testDay, req.Date())
	assert.Equal(t, engine.UserID("member-1"), req.UserID)
}

func TestNewBookingRequest_Rejections(t *testing.T) {
	tests := []struct {
		name       string
		resource   engine.Resource
		start, end time.Time
		code       engine.ErrorCode
		sentinel   error
	}{
		{"end before start", hotDesk(), at(12, 0), at(9, 0), engine.CodeInvalidTimeRange, engine.ErrInvalidTimeRange},
		{"zero length", hotDesk(), at(9, 0), at(9, 0), engine.CodeInvalidTimeRange, engine.ErrInvalidTimeRange},
		{"opens too early", hotDesk(), at(6, 30), at(9, 0), engine.CodeOutsideOperatingHours, engine.ErrOutsideOperatingHours},
		{"closes too late", hotDesk(), at(20, 0), at(22, 30), engine.CodeOutsideOperatingHours, engine.ErrOutsideOperatingHours},
		{"below minimum", hotDesk(), at(9, 0), at(9, 30), engine.CodeBelowMinimumDuration, engine.ErrBelowMinimumDuration},
		{"above maximum", meetingRoom(), at(8, 0), at(17, 0), engine.CodeAboveMaximumDuration, engine.ErrAboveMaximumDuration},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := engine.NewBookingRequest(engine.DefaultRules(), tt.resource, "member-1", tt.start, tt.end)
			require.Error(t, err)

			var vErr *engine.ValidationError
			require.ErrorAs(t, err, &vErr)
			assert.Equal(t, tt.code, vErr.Code)
			assert.True(t, errors.Is(err, tt.sentinel))
			assert.True(t, engine.IsClientError(err))
		})
	}
}

func TestNewBookingRequest_BoundaryHoursAccepted(t *testing.T) {
	// 07:00 to 22:00 exactly is inside the operating window.
	r := hotDesk()
	r.MaxDuration = 0
	_, err := engine.NewBookingRequest(engine.DefaultRules(), r, "member-1", at(7, 0), at(22, 0))
	assert.NoError(t, err)
}

func TestNewBookingRequest_DayPassBooksWholeDay(t *testing.T) {
	req, err := engine.NewBookingRequest(engine.DefaultRules(), dayPass(), "member-1", at(13, 0), at(13, 0))
	require.NoError(t, err)

	assert.Equal(t, at(7, 0), req.Window.Start)
	assert.Equal(t, at(22, 0), req.Window.End)
}

func TestNewBookingRequest_UsesRulesLocation(t *testing.T) {
	la, err := time.LoadLocation("America/Los_Angeles")
	if err != nil {
		t.Skip("tzdata not available")
	}
	rules := engine.DefaultRules()
	rules.Location = la

	// 16:00 UTC is 09:00 in Los Angeles during PDT
	start := time.Date(2025, time.June, 10, 16, 0, 0, 0, time.UTC)
	req, err := engine.NewBookingRequest(rules, hotDesk(), "member-1", start, start.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 9, req.Window.Start.Hour())
}
