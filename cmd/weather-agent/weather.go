// Copyright 2026 © The Rumbo Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rumbo-ai/rumbo/pkg/guideline"
	"github.com/rumbo-ai/rumbo/pkg/journey"
	"github.com/rumbo-ai/rumbo/pkg/tool"
)

// cityWeather is the demo dataset. Lookups are case-insensitive and each
// city carries its local unit, so US cities report °F.
var cityWeather = map[string]map[string]any{
	"北京":          {"temperature": 15, "unit": "°C", "condition": "晴", "humidity": 45},
	"上海":          {"temperature": 18, "unit": "°C", "condition": "多云", "humidity": 60},
	"广州":          {"temperature": 25, "unit": "°C", "condition": "小雨", "humidity": 80},
	"成都":          {"temperature": 17, "unit": "°C", "condition": "阴", "humidity": 70},
	"深圳":          {"temperature": 26, "unit": "°C", "condition": "晴", "humidity": 75},
	"杭州":          {"temperature": 19, "unit": "°C", "condition": "多云", "humidity": 65},
	"new york":    {"temperature": 54, "unit": "°F", "condition": "cloudy", "humidity": 55},
	"los angeles": {"temperature": 72, "unit": "°F", "condition": "sunny", "humidity": 40},
	"chicago":     {"temperature": 46, "unit": "°F", "condition": "windy", "humidity": 50},
	"london":      {"temperature": 11, "unit": "°C", "condition": "rainy", "humidity": 85},
	"tokyo":       {"temperature": 16, "unit": "°C", "condition": "clear", "humidity": 58},
}

// availableCities lists the covered cities in stable order for error
// payloads, so the model can suggest alternatives.
func availableCities() string {
	cities := make([]string, 0, len(cityWeather))
	for city := range cityWeather {
		cities = append(cities, city)
	}
	sort.Strings(cities)
	return strings.Join(cities, ", ")
}

func registerWeatherTool(reg *tool.Registry) error {
	def := tool.Definition{
		ID:          "get_weather",
		Description: "Get the current weather for a city.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"city": map[string]any{
					"type":        "string",
					"description": "City name, e.g. 北京 or London",
				},
			},
			"required": []string{"city"},
		},
	}
	return reg.Register(def, getWeather)
}

func getWeather(_ context.Context, args map[string]any) (*tool.Result, error) {
	city, _ := args["city"].(string)
	data, ok := cityWeather[strings.ToLower(strings.TrimSpace(city))]
	if !ok {
		return &tool.Result{
			Success: false,
			Data: map[string]any{
				"error":            fmt.Sprintf("no weather data for %q", city),
				"available_cities": availableCities(),
			},
		}, nil
	}

	result := map[string]any{
		"location":     city,
		"current_time": time.Now().Format("2006-01-02 15:04"),
	}
	for k, v := range data {
		result[k] = v
	}
	return &tool.Result{Success: true, Data: result}, nil
}

// weatherJourney is the built-in journey: resolve a city, look up its
// weather, report or apologize, then loop or end.
func weatherJourney(reg *tool.Registry) (*journey.Journey, error) {
	b := journey.NewBuilder("weather-query", "Answer weather questions",
		"the user asked about the weather",
		"the user wants to know current weather conditions",
	)

	initial := b.AddInitialState("initial")
	lookup := b.AddToolState("lookup", "get_weather")
	askCity := b.AddChatState("ask_city",
		"Ask the user which city they want the weather for.")
	report := b.AddChatState("report",
		"Report the weather using the tool data, quoting the temperature with its unit. Offer to look up another city.")
	apologize := b.AddChatState("apologize",
		"Apologize that the city is not covered and suggest a few from the tool's available_cities list.")
	end := b.AddTerminalState("end")

	b.AddTransition(initial, lookup, "the user mentioned a specific city")
	b.AddTransition(initial, askCity, "")
	b.AddTransition(askCity, lookup, "the user mentioned a specific city")
	b.AddTransition(lookup, report, "the weather lookup returned data successfully")
	b.AddTransition(lookup, apologize, "the weather lookup failed or the city was not found")
	b.AddTransition(report, end, "the user is done or said goodbye")
	b.AddTransition(report, lookup, "the user asked about another city")
	b.AddTransition(apologize, lookup, "the user asked about another city")
	b.AddTransition(apologize, end, "")

	b.AddGuideline("the city name is ambiguous or could refer to several places",
		"Ask the user to clarify which city they mean before looking anything up.")
	b.AddGuideline("the user asked about several cities in one message",
		"Handle one city at a time and tell the user you will take the cities in order.")

	return b.Finalize(reg)
}

func globalGuidelines() []guideline.Guideline {
	return []guideline.Guideline{
		{
			Condition: "the user greets you or starts a new conversation",
			Action:    "Greet the user warmly and mention you can look up current weather.",
			Scope:     guideline.Global,
		},
		{
			Condition: "the user asked for temperatures in fahrenheit",
			Action:    "Convert temperatures from celsius to fahrenheit in your reply.",
			Scope:     guideline.Global,
		},
		{
			Condition: "the user seems frustrated or confused",
			Action:    "Stay patient and friendly, and keep the reply short and concrete.",
			Scope:     guideline.Global,
		},
		{
			Condition: "the user asked for a weather forecast for future days",
			Action:    "Explain that you only have current conditions, not forecasts.",
			Scope:     guideline.Global,
		},
	}
}
