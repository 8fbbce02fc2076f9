package serialization

import (
	"encoding/gob"
	"encoding/json"
	"io"
)

type jsonEncoder struct{ enc *json.Encoder }

func (j jsonEncoder) Encode(v any) error { return j.enc.Encode(v) }

type jsonDecoder struct{ dec *json.Decoder }

func (j jsonDecoder) Decode(v any) error { return j.dec.Decode(v) }

// JSONEncoder returns an Encoder writing JSON to w. Image URLs keep their & and < characters.
func JSONEncoder(w io.Writer) Encoder {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return jsonEncoder{enc: enc}
}

// JSONDecoder returns a Decoder reading JSON from r.
func JSONDecoder(r io.Reader) Decoder {
	return jsonDecoder{dec: json.NewDecoder(r)}
}

// GobEncoder returns an Encoder that writes GOB-encoded data to w.
func GobEncoder(w io.Writer) Encoder {
	return gob.NewEncoder(w)
}

// GobDecoder returns a Decoder that reads GOB-encoded data from r.
func GobDecoder(r io.Reader) Decoder {
	return gob.NewDecoder(r)
}
