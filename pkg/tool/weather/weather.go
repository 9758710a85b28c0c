package weather

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/m-mizutani/burrow/pkg/model"
	"github.com/m-mizutani/burrow/pkg/tool"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

const unknownWeather = "Unknown weather data"

// Mock data. No external weather service is queried.
var weatherTable = map[string]string{
	"rabat":      "22°C, Sunny",
	"london":     "15°C, Rainy",
	"paris":      "18°C, Cloudy",
	"casablanca": "20°C, Partially Cloudy",
	"new york":   "10°C, Cloudy",
}

type getWeatherInput struct {
	Location string `json:"location"`
	Unit     string `json:"unit,omitempty"`
}

type getWeatherOutput struct {
	Location string `json:"location"`
	Weather  string `json:"weather"`
	Unit     string `json:"unit,omitempty"`
}

type weather struct{}

// New creates a get_weather tool backed by a fixed table
func New() *weather {
	return &weather{}
}

func (x *weather) Flags() []cli.Flag {
	return nil
}

func (x *weather) Init(ctx context.Context, client *tool.Client) (bool, error) {
	return true, nil
}

func (x *weather) Prompt(ctx context.Context) string {
	return ""
}

func (x *weather) Specs() []*model.ToolSpec {
	return []*model.ToolSpec{
		{
			Name:        "get_weather",
			Description: "Get the current weather for a specific location.",
			Parameters: &jsonschema.Schema{
				Type: "object",
				Properties: map[string]*jsonschema.Schema{
					"location": {
						Type:        "string",
						Description: "City name, e.g. Paris or Rabat, Morocco",
					},
					"unit": {
						Type: "string",
						Enum: []any{"celsius", "fahrenheit"},
					},
				},
				Required: []string{"location"},
			},
		},
	}
}

// Lookup returns the weather for location. The key is the lower-cased text before the first comma.
func Lookup(location string) string {
	key := strings.TrimSpace(strings.ToLower(strings.SplitN(location, ",", 2)[0]))
	if w, ok := weatherTable[key]; ok {
		return w
	}
	return unknownWeather
}

func (x *weather) Execute(ctx context.Context, call *model.ToolCall) (string, error) {
	var input getWeatherInput
	if err := call.Decode(&input); err != nil {
		return "", err
	}
	if input.Location == "" {
		return "", goerr.New("location is required")
	}

	out, err := json.Marshal(getWeatherOutput{
		Location: input.Location,
		Weather:  Lookup(input.Location),
		Unit:     input.Unit,
	})
	if err != nil {
		return "", goerr.Wrap(err, "failed to marshal weather")
	}
	return string(out), nil
}
