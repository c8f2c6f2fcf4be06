package voxel

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/freeminer/freeminer-sub007/internal/vec"
)

// contentSchema описывает YAML файл определений нод
const contentSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["nodes"],
  "additionalProperties": false,
  "properties": {
    "nodes": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["name"],
        "additionalProperties": false,
        "properties": {
          "name": {"type": "string", "pattern": "^:?[a-z0-9_]+(:[a-z0-9_]+)?$"},
          "walkable": {"type": "boolean"},
          "liquid": {"enum": ["none", "flowing", "source"]},
          "groups": {"type": "object", "additionalProperties": {"type": "integer"}},
          "light_source": {"type": "integer", "minimum": 0, "maximum": 14},
          "light_propagates": {"type": "boolean"},
          "collision_boxes": {
            "type": "array",
            "items": {
              "type": "array",
              "minItems": 6,
              "maxItems": 6,
              "items": {"type": "number", "minimum": -1.5, "maximum": 1.5}
            }
          }
        }
      }
    }
  }
}`

var compiledContentSchema = jsonschema.MustCompileString("content.schema.json", contentSchema)

// NodeDefinition - описание ноды в файле контента.
// Боксы задаются в долях ноды относительно ее центра.
type NodeDefinition struct {
	Name            string         `yaml:"name"`
	Walkable        bool           `yaml:"walkable"`
	Liquid          string         `yaml:"liquid"`
	Groups          map[string]int `yaml:"groups"`
	LightSource     uint8          `yaml:"light_source"`
	LightPropagates bool           `yaml:"light_propagates"`
	CollisionBoxes  [][]float64    `yaml:"collision_boxes"`
}

// ContentFile - корень файла контента
type ContentFile struct {
	Nodes []NodeDefinition `yaml:"nodes"`
}

// ParseContent проверяет YAML по схеме и разбирает его
func ParseContent(data []byte) (*ContentFile, error) {
	var doc interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("ошибка разбора YAML контента: %w", err)
	}

	// Схема проверяется по JSON-представлению документа
	js, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("контент не приводится к JSON: %w", err)
	}
	var generic interface{}
	if err := json.Unmarshal(js, &generic); err != nil {
		return nil, err
	}
	if err := compiledContentSchema.Validate(generic); err != nil {
		return nil, fmt.Errorf("контент не соответствует схеме: %w", err)
	}

	var cf ContentFile
	if err := yaml.Unmarshal(data, &cf); err != nil {
		return nil, fmt.Errorf("ошибка разбора контента: %w", err)
	}
	return &cf, nil
}

// LoadContentFile читает файл контента с диска
func LoadContentFile(path string) (*ContentFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("чтение контента %s: %w", path, err)
	}
	return ParseContent(data)
}

// Features переводит описание в определение ноды
func (d NodeDefinition) Features() ContentFeatures {
	f := ContentFeatures{
		Name:            d.Name,
		Walkable:        d.Walkable,
		Groups:          d.Groups,
		LightSource:     d.LightSource,
		LightPropagates: d.LightPropagates,
	}
	switch d.Liquid {
	case "flowing":
		f.Liquid = LiquidFlowing
	case "source":
		f.Liquid = LiquidSource
	}
	for _, b := range d.CollisionBoxes {
		f.CollisionBoxes = append(f.CollisionBoxes,
			vec.NewBox(b[0]*vec.BS, b[1]*vec.BS, b[2]*vec.BS, b[3]*vec.BS, b[4]*vec.BS, b[5]*vec.BS))
	}
	return f
}

// Register регистрирует все ноды файла
func (cf *ContentFile) Register(ndef *NodeDefManager) error {
	for _, d := range cf.Nodes {
		if _, err := ndef.Register(d.Features()); err != nil {
			return fmt.Errorf("регистрация ноды %s: %w", d.Name, err)
		}
	}
	return nil
}
