package annotate

import (
	"fmt"
	"strings"
)

// DefaultDescribePrompt asks for a scene description suited to keyword search
const DefaultDescribePrompt = `Describe the scene with objects and their colors, number of lanes, ` +
	`whether it's marked or not, weather (sunny, rainy, snow, cloudy), ` +
	`and time of day (morning, night, dawn, dusk). Mention pedestrians if present.`

const detectTemplate = `You are an object locator.

Find %s in the image.

Return JSON only:
{
  "objects": [
    {"name": "string", "confidence": 0.0, "x_min": 0.0, "y_min": 0.0, "x_max": 0.0, "y_max": 0.0}
  ]
}

HARD RULES
- All coordinates are normalized to [0,1] (NOT pixels), x to the right, y downward.
- One entry per object instance, boxes tight around each instance.
- "name" is a short lowercase class name%s.
- If nothing is found, return {"objects": []}.
- JSON only. No markdown, no code fences, no comments, no trailing commas.`

// DetectPrompt builds the detection prompt. An empty query asks for every
// clearly visible object.
func DetectPrompt(query string) string {
	query = strings.TrimSpace(query)
	if query == "" {
		return fmt.Sprintf(detectTemplate, "every clearly visible object (people, vehicles, animals, signs, other salient things)", "")
	}
	return fmt.Sprintf(detectTemplate, fmt.Sprintf("every instance of %q", query), fmt.Sprintf(", always %q", strings.ToLower(query)))
}
