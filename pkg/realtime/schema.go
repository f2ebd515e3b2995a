package realtime

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// serverFrameSchema describes the inbound frames whose fields the relay depends on.
// Unknown frame types only need a type string.
const serverFrameSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["type"],
  "properties": {
    "type": {"type": "string", "minLength": 1}
  },
  "allOf": [
    {
      "if": {"properties": {"type": {"const": "session.created"}}},
      "then": {
        "required": ["session"],
        "properties": {"session": {"type": "object", "required": ["id"], "properties": {"id": {"type": "string"}}}}
      }
    },
    {
      "if": {"properties": {"type": {"const": "conversation.created"}}},
      "then": {
        "required": ["conversation"],
        "properties": {"conversation": {"type": "object", "required": ["id"], "properties": {"id": {"type": "string"}}}}
      }
    },
    {
      "if": {"properties": {"type": {"const": "response.audio.delta"}}},
      "then": {
        "required": ["delta"],
        "properties": {"delta": {"type": "string"}}
      }
    },
    {
      "if": {"properties": {"type": {"const": "conversation.item.input_audio_transcription.completed"}}},
      "then": {
        "properties": {"transcript": {"type": "string"}}
      }
    },
    {
      "if": {"properties": {"type": {"const": "error"}}},
      "then": {
        "required": ["error"],
        "properties": {"error": {"type": "object"}}
      }
    }
  ]
}`

var compiledFrameSchema = mustCompileSchema(serverFrameSchema)

func mustCompileSchema(src string) *gojsonschema.Schema {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(src))
	if err != nil {
		panic(fmt.Sprintf("realtime: invalid frame schema: %v", err))
	}
	return schema
}

// DecodeServerFrame validates and decodes one inbound text frame.
// Every failure wraps ErrMalformedFrame.
func DecodeServerFrame(raw []byte) (*ServerFrame, error) {
	result, err := compiledFrameSchema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return nil, fmt.Errorf("%w: %s", ErrMalformedFrame, strings.Join(msgs, "; "))
	}

	var frame ServerFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	if frame.Type == TypeResponseAudioDelta {
		audio, err := base64.StdEncoding.DecodeString(frame.Delta)
		if err != nil {
			return nil, fmt.Errorf("%w: audio delta: %v", ErrMalformedFrame, err)
		}
		frame.Audio = audio
	}

	return &frame, nil
}

// EncodeAudio returns an input_audio_buffer.append frame for pcm.
func EncodeAudio(pcm []byte) AudioAppend {
	return AudioAppend{
		Type:  TypeInputAudioAppend,
		Audio: base64.StdEncoding.EncodeToString(pcm),
	}
}
