// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"fmt"
	"os"
	"strings"

	"github.com/awnumar/memguard"
)

// APIKey holds a provider credential in a guarded memory enclave so
// the plaintext is not left lying around in process memory. The key
// is only materialized for the duration of a String() call.
type APIKey struct {
	enclave *memguard.Enclave
}

// LoadAPIKey resolves a credential from the environment variable, then
// from a container secret file, in that order.
//
// Secret files are the Podman/Docker secrets convention, e.g.
// /run/secrets/openai_api_key.
func LoadAPIKey(envVar, secretPath string) (*APIKey, error) {
	if v := strings.TrimSpace(os.Getenv(envVar)); v != "" {
		return NewAPIKey(v), nil
	}
	if secretPath != "" {
		data, err := os.ReadFile(secretPath)
		if err == nil {
			key := strings.TrimSpace(string(data))
			if key != "" {
				return NewAPIKey(key), nil
			}
		}
	}
	return nil, fmt.Errorf("%s not set and secret file %s not readable", envVar, secretPath)
}

// NewAPIKey seals a plaintext key into an enclave.
func NewAPIKey(key string) *APIKey {
	return &APIKey{enclave: memguard.NewEnclave([]byte(key))}
}

// String opens the enclave and returns the plaintext key. The caller
// must not log or persist the returned value.
func (k *APIKey) String() (string, error) {
	buf, err := k.enclave.Open()
	if err != nil {
		return "", fmt.Errorf("open api key enclave: %w", err)
	}
	// Copy out before destroying: buf.String() views the protected
	// pages directly, which Destroy wipes and unmaps.
	key := string(buf.Bytes())
	buf.Destroy()
	return key, nil
}
