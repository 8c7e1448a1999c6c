package smsprosto

import (
	"encoding/json"
	"strconv"
)

// The gateway is inconsistent about scalar types: err_code, status, id and
// balance arrive as either JSON strings or numbers depending on the method.
// flexVal normalizes both spellings to a string.
type flexVal string

func (v *flexVal) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*v = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*v = flexVal(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*v = flexVal(n.String())
	return nil
}

func (v flexVal) String() string { return string(v) }

// Documented response shape, shared by push_msg, get_msg_status and
// get_balance.
type apiEnvelope struct {
	Response *apiResponse `json:"response"`
}

type apiResponse struct {
	Msg  *apiMsg  `json:"msg"`
	Data *apiData `json:"data"`
}

type apiMsg struct {
	ErrCode flexVal `json:"err_code"`
	Text    string  `json:"text"`
	Status  flexVal `json:"status"`
}

type apiData struct {
	ID      flexVal `json:"id"`
	Balance flexVal `json:"balance"`
	Credits flexVal `json:"credits"`
}

// Older gateway deployments answered push_msg with a flat object.
type legacySendResponse struct {
	ID    flexVal `json:"id"`
	MsgID flexVal `json:"msg_id"`
}

func (r legacySendResponse) messageID() string {
	if r.ID != "" {
		return r.ID.String()
	}
	return r.MsgID.String()
}

func parseFloat(s string) float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}
