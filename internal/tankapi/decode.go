package tankapi

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

func parseObject(body []byte, what string) (gjson.Result, error) {
	if !gjson.ValidBytes(body) {
		return gjson.Result{}, fmt.Errorf("%w: %s is not valid JSON", ErrMalformedResponse, what)
	}
	root := gjson.ParseBytes(body)
	if !root.IsObject() {
		return gjson.Result{}, fmt.Errorf("%w: %s is %s, want object", ErrMalformedResponse, what, root.Type)
	}
	return root, nil
}

func decodeSnapshot(body []byte) (Snapshot, error) {
	root, err := parseObject(body, "status")
	if err != nil {
		return nil, err
	}
	snap := Snapshot{}
	var decodeErr error
	root.ForEach(func(key, value gjson.Result) bool {
		if !value.IsObject() {
			decodeErr = fmt.Errorf("%w: session %q is %s, want object", ErrMalformedResponse, key.String(), value.Type)
			return false
		}
		snap[key.String()] = decodeSessionStatus(value)
		return true
	})
	if decodeErr != nil {
		return nil, decodeErr
	}
	return snap, nil
}

func decodeSessionStatus(v gjson.Result) SessionStatus {
	st := SessionStatus{
		Test:           v.Get("test").String(),
		Status:         v.Get("status").String(),
		CurrentStage:   v.Get("current_stage").String(),
		Break:          v.Get("break").String(),
		StageCompleted: v.Get("stage_completed").Bool(),
		Reason:         v.Get("reason").String(),
		Raw:            json.RawMessage(v.Raw),
	}
	v.Get("failures").ForEach(func(_, f gjson.Result) bool {
		st.Failures = append(st.Failures, Failure{
			Stage:  f.Get("stage").String(),
			Reason: f.Get("reason").String(),
		})
		return true
	})
	return st
}

func decodeRunReply(body []byte) (RunReply, error) {
	root, err := parseObject(body, "run reply")
	if err != nil {
		return RunReply{}, err
	}
	session := root.Get("session")
	if !session.Exists() || strings.TrimSpace(session.String()) == "" {
		return RunReply{}, fmt.Errorf("%w: run reply has no session id", ErrMalformedResponse)
	}
	return RunReply{
		Test:    root.Get("test").String(),
		Session: session.String(),
	}, nil
}

// decodeReply accepts any JSON value; only "reason" is read when present.
func decodeReply(body []byte) (Reply, error) {
	if len(strings.TrimSpace(string(body))) == 0 {
		return Reply{}, nil
	}
	if !gjson.ValidBytes(body) {
		return Reply{}, fmt.Errorf("%w: reply is not valid JSON", ErrMalformedResponse)
	}
	return Reply{
		Reason: gjson.GetBytes(body, "reason").String(),
		Raw:    json.RawMessage(body),
	}, nil
}

func decodeArtifactList(body []byte) ([]string, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("%w: artifact list is not valid JSON", ErrMalformedResponse)
	}
	root := gjson.ParseBytes(body)
	if !root.IsArray() {
		return nil, fmt.Errorf("%w: artifact list is %s, want array", ErrMalformedResponse, root.Type)
	}
	var names []string
	for _, item := range root.Array() {
		names = append(names, item.String())
	}
	return names, nil
}

func decodeAPIError(status int, body []byte) *APIError {
	trimmed := strings.TrimSpace(string(body))
	apiErr := &APIError{StatusCode: status, Body: trimmed}
	if gjson.Valid(trimmed) {
		apiErr.Reason = gjson.Get(trimmed, "reason").String()
	}
	return apiErr
}
