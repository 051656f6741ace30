package extension

// ManifestSchema is the JSON Schema for strider.json
const ManifestSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "properties": {
    "worker": {
      "type": "string",
      "minLength": 1,
      "description": "Worker entry module, relative to the package"
    },
    "webapp": {
      "type": "string",
      "minLength": 1,
      "description": "Webapp entry module, relative to the package"
    },
    "weight": {
      "type": "integer",
      "description": "Initialization order, lower runs first"
    },
    "static": {
      "type": "string",
      "minLength": 1,
      "description": "Static asset directory, relative to the package"
    }
  }
}`

// MetadataSchema is the JSON Schema for the package metadata file
const MetadataSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "properties": {
    "name": { "type": "string" },
    "version": { "type": "string" },
    "description": { "type": "string" }
  }
}`
