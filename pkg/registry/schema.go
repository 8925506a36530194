package registry

// definitionSchema validates component definition files. Nodes must not
// carry ids: ids are assigned at insertion so that two instances of the
// same component never collide.
const definitionSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["id", "name", "version", "root"],
  "additionalProperties": false,
  "properties": {
    "id": {
      "type": "string",
      "pattern": "^[a-z0-9][a-z0-9-]*$"
    },
    "name": {
      "type": "string",
      "minLength": 1
    },
    "version": {
      "type": "string",
      "pattern": "^[0-9]+\\.[0-9]+\\.[0-9]+(-[0-9A-Za-z.-]+)?(\\+[0-9A-Za-z.-]+)?$"
    },
    "description": {
      "type": "string"
    },
    "root": {
      "$ref": "#/$defs/node"
    }
  },
  "$defs": {
    "node": {
      "type": "object",
      "required": ["kind", "width", "height"],
      "additionalProperties": false,
      "properties": {
        "id": {
          "type": "string",
          "maxLength": 0
        },
        "kind": {
          "enum": ["container", "group", "text", "heading", "image", "button", "input"]
        },
        "name": {
          "type": "string"
        },
        "x": {
          "type": "number"
        },
        "y": {
          "type": "number"
        },
        "width": {
          "type": "number",
          "exclusiveMinimum": 0
        },
        "height": {
          "type": "number",
          "minimum": 0
        },
        "text": {
          "type": "string"
        },
        "style": {
          "type": "object",
          "additionalProperties": {
            "type": "string"
          }
        },
        "children": {
          "type": "array",
          "items": {
            "$ref": "#/$defs/node"
          }
        }
      }
    }
  }
}`
