package catalog

import "github.com/santhosh-tekuri/jsonschema/v5"

const catalogSchemaJSON = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["download_path", "temp_path", "log_path", "models"],
  "properties": {
    "download_path": {"type": "string", "minLength": 1},
    "temp_path": {"type": "string", "minLength": 1},
    "log_path": {"type": "string", "minLength": 1},
    "allowed_domains": {
      "type": "array",
      "items": {"type": "string", "minLength": 1}
    },
    "models": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id", "name", "filename", "size_gb", "methods"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "name": {"type": "string"},
          "filename": {"type": "string", "minLength": 1},
          "size_gb": {"type": "number", "minimum": 0},
          "sha256": {"type": "string", "pattern": "^[a-fA-F0-9]{64}$"},
          "methods": {
            "type": "array",
            "items": {
              "type": "object",
              "required": ["type", "url"],
              "properties": {
                "type": {"type": "string", "minLength": 1},
                "url": {"type": "string", "minLength": 1}
              }
            }
          }
        }
      }
    }
  }
}`

var catalogSchema = jsonschema.MustCompileString("catalog.schema.json", catalogSchemaJSON)
