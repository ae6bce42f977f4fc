package llm

import "github.com/lifetrace-ai/lifetrace/pkg/models"

func stringProp(desc string) map[string]any {
	return map[string]any{"type": "string", "description": desc}
}

func stringArrayProp(desc string) map[string]any {
	return map[string]any{
		"type":        "array",
		"items":       map[string]any{"type": "string"},
		"description": desc,
	}
}

func scoreProp(desc string) map[string]any {
	return map[string]any{
		"type":        "integer",
		"minimum":     0,
		"maximum":     10,
		"description": desc,
	}
}

func objectSchema(props map[string]any) map[string]any {
	required := make([]string, 0, len(props))
	for name := range props {
		required = append(required, name)
	}
	return map[string]any{
		"type":                 "object",
		"properties":           props,
		"required":             required,
		"additionalProperties": false,
	}
}

var ongoingEventSchema = objectSchema(map[string]any{
	"event_title":   stringProp("Short title, a few words"),
	"event_summary": stringProp("One-paragraph summary of the activity so far"),
	"event_story":   stringProp("Running narrative of the activity, third person"),
})

var completedEventSchema = objectSchema(map[string]any{
	"event_title":     stringProp("Short title, a few words"),
	"event_summary":   stringProp("One-paragraph summary of the whole event"),
	"event_story":     stringProp("Full narrative of the event, third person"),
	"location":        stringProp("Where the event took place, or empty if unknown"),
	"people_involved": stringArrayProp("Names or roles of other people present"),
	"activity_type": map[string]any{
		"type":        "string",
		"enum":        activityTypeNames(),
		"description": "Dominant activity category",
	},
	"interaction_dynamic": stringProp("How the wearer related to others, or empty if alone"),
	"inferred_impact":     stringProp("Likely effect of the event on the wearer"),
	"topics":              stringArrayProp("Topics discussed or engaged with"),
	"mood_labels":         stringArrayProp("One to three mood words"),
	"one_liner":           stringProp("One memorable sentence about the event"),
	"action_item":         stringProp("A follow-up the wearer mentioned, or empty"),
	"mood_score":          scoreProp("Overall mood, 0 worst to 10 best"),
	"stress_level":        scoreProp("Stress, 0 calm to 10 overwhelmed"),
	"energy_level":        scoreProp("Energy, 0 drained to 10 energized"),
})

var reflectionSchema = objectSchema(map[string]any{
	"gratitude":       stringArrayProp("Things to be grateful for, from the day's events"),
	"challenges":      stringArrayProp("Difficulties faced during the day"),
	"learning":        stringArrayProp("Things learned or realized"),
	"connections":     stringArrayProp("Meaningful interactions with people"),
	"looking_forward": stringProp("One sentence about tomorrow"),
})

func activityTypeNames() []string {
	types := models.ValidActivityTypes()
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = string(t)
	}
	return names
}
