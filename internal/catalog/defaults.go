package catalog

import (
	"time"

	"cardscene/internal/model"
)

// DefaultConfig returns the built-in scene configuration.
func DefaultConfig() Config {
	return Config{
		Kinds: []KindSpec{
			{Kind: model.KindBirdFlyby, Duration: 6 * time.Second},
			{Kind: model.KindSpeechBubble, Duration: 4 * time.Second, AcceptsText: true, DefaultText: "你好！"},
			{Kind: model.KindThoughtBubble, Duration: 4 * time.Second},
			{Kind: model.KindSakuraFallen, Duration: 12 * time.Second},
			{Kind: model.KindChristmasSnow, Duration: time.Minute, Background: true},
		},
		Recurring: []model.RecurringRule{
			// The bird flies during the day.
			{StartHour: 6, EndHour: 18, Event: model.KindBirdFlyby},
		},
		Blackouts: []Blackout{
			{Event: model.KindBirdFlyby, Window: Day(time.December, 25)},
		},
		Holidays: []Holiday{
			{
				Name:            "christmas",
				Window:          Window{From: MonthDay{time.December, 24}, To: MonthDay{time.December, 25}},
				Background:      model.KindChristmasSnow,
				Greeting:        "圣诞快乐！",
				GreetingDelay:   1500 * time.Millisecond,
				BackgroundDelay: 4 * time.Second,
			},
		},
	}
}

// Default builds the catalog from DefaultConfig.
func Default() *Catalog {
	c, err := New(DefaultConfig())
	if err != nil {
		panic("catalog: invalid default config: " + err.Error())
	}
	return c
}
