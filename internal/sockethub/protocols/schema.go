package protocols

// descriptorSchema validates a platform descriptor: the platform's name and
// the verbs it accepts, each with its own JSON schema.
const descriptorSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "title": "platform",
  "type": "object",
  "required": ["name", "verbs"],
  "properties": {
    "name": {
      "type": "string",
      "pattern": "^[a-z0-9][-_a-z0-9]*$",
      "maxLength": 63
    },
    "verbs": {
      "title": "verbs",
      "type": "object",
      "minProperties": 1,
      "additionalProperties": {
        "type": "object",
        "required": ["name", "schema"],
        "properties": {
          "name": { "title": "name", "type": "string", "minLength": 1 },
          "schema": { "title": "schema", "type": "object" }
        }
      }
    }
  }
}`

// platformsSchema validates a registry document mapping platform names to
// descriptors.
const platformsSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "title": "platforms",
  "type": "object",
  "required": ["platforms"],
  "properties": {
    "platforms": {
      "type": "object",
      "additionalProperties": {
        "type": "object",
        "required": ["name", "verbs"],
        "properties": {
          "name": { "type": "string" },
          "verbs": { "type": "object" }
        }
      }
    }
  }
}`
