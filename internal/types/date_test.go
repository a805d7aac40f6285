package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClampedDate(t *testing.T) {
	tests := []struct {
		name  string
		year  int
		month time.Month
		day   int
		want  time.Time
	}{
		{"regular day", 2024, time.March, 15, time.Date(2024, time.March, 15, 0, 0, 0, 0, time.UTC)},
		{"31st in february leap year", 2024, time.February, 31, time.Date(2024, time.February, 29, 0, 0, 0, 0, time.UTC)},
		{"31st in february", 2023, time.February, 31, time.Date(2023, time.February, 28, 0, 0, 0, 0, time.UTC)},
		{"31st in april", 2024, time.April, 31, time.Date(2024, time.April, 30, 0, 0, 0, 0, time.UTC)},
		{"month overflow", 2024, time.Month(13), 31, time.Date(2025, time.January, 31, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClampedDate(tt.year, tt.month, tt.day))
		})
	}
}

func TestAddClampedDate(t *testing.T) {
	tests := []struct {
		name   string
		start  time.Time
		years  int
		months int
		want   time.Time
	}{
		{
			name:   "jan 31 plus one month",
			start:  time.Date(2024, time.January, 31, 10, 0, 0, 0, time.UTC),
			months: 1,
			want:   time.Date(2024, time.February, 29, 10, 0, 0, 0, time.UTC),
		},
		{
			name:   "dec to jan",
			start:  time.Date(2024, time.December, 15, 0, 0, 0, 0, time.UTC),
			months: 1,
			want:   time.Date(2025, time.January, 15, 0, 0, 0, 0, time.UTC),
		},
		{
			name:  "leap day plus one year",
			start: time.Date(2024, time.February, 29, 0, 0, 0, 0, time.UTC),
			years: 1,
			want:  time.Date(2025, time.February, 28, 0, 0, 0, 0, time.UTC),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, AddClampedDate(tt.start, tt.years, tt.months, 0))
		})
	}
}

func TestMinTime(t *testing.T) {
	a := time.Date(2024, time.January, 10, 0, 0, 0, 0, time.UTC)
	b := time.Date(2024, time.January, 5, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, a, MinTime(a, nil))
	assert.Equal(t, b, MinTime(a, &b))
	assert.Equal(t, a, MinTime(b.AddDate(0, 0, 5), &a))
}
