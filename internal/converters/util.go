package converters

import "encoding/json"

func unmarshalBoth(a, b []byte, aOut, bOut *any) bool {
	if err := json.Unmarshal(a, aOut); err != nil {
		return false
	}

	if err := json.Unmarshal(b, bOut); err != nil {
		return false
	}

	return true
}
