package handlers

import "github.com/xeipuuv/gojsonschema"

const RemoteUploadRequestSchemaDefinition = `{
	"type": "object",
	"properties": {
		"url": {
			"type": "string",
			"minLength": 1
		},
		"transcode": {
			"type": "object",
			"properties": {
				"crf": {
					"type": "integer",
					"minimum": 0,
					"maximum": 255
				},
				"cpu_used": {
					"type": "integer",
					"minimum": 0,
					"maximum": 255
				}
			},
			"additionalProperties": false
		}
	},
	"required": ["url"],
	"additionalProperties": false
}`

var inputSchemas map[string]string = map[string]string{
	"RemoteUpload": RemoteUploadRequestSchemaDefinition,
}

func compileJsonSchemas() map[string]*gojsonschema.Schema {
	compiled := make(map[string]*gojsonschema.Schema, 0)
	for name, text := range inputSchemas {
		schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(text))
		if err != nil {
			// raise panic on program start
			panic(err) // fix schema text
		}
		compiled[name] = schema
	}
	return compiled
}

// Run compile step on program start:
var inputSchemasCompiled map[string]*gojsonschema.Schema = compileJsonSchemas()
