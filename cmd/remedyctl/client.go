// Copyright (C) 2025 Beehive Labs (oss@beehivelabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/beehive-labs/remedy/services/remediation/datatypes"
)

var httpClient = &http.Client{Timeout: 120 * time.Second}

// apiError is the {"error": "..."} body every failing endpoint returns.
type apiError struct {
	Error string `json:"error"`
}

// doRequest performs one JSON round trip against the server and
// decodes a 2xx response into out (which may be nil).
func doRequest(method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, serverURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var ae apiError
		if json.Unmarshal(data, &ae) == nil && ae.Error != "" {
			return fmt.Errorf("server returned %d: %s", resp.StatusCode, ae.Error)
		}
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, string(data))
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

func getProposal(id string) (*datatypes.Proposal, error) {
	var p datatypes.Proposal
	if err := doRequest(http.MethodGet, "/v1/proposals/"+url.PathEscape(id), nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func listProposals(status string) ([]datatypes.Proposal, error) {
	path := "/v1/proposals"
	if status != "" {
		path += "?status=" + url.QueryEscape(status)
	}
	var out struct {
		Proposals []datatypes.Proposal `json:"proposals"`
	}
	if err := doRequest(http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Proposals, nil
}

func postProposalAction(id, action string, body any) (*datatypes.Proposal, error) {
	var p datatypes.Proposal
	path := "/v1/proposals/" + url.PathEscape(id) + "/" + action
	if err := doRequest(http.MethodPost, path, body, &p); err != nil {
		return nil, err
	}
	return &p, nil
}
