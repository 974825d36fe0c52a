package client

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/richinsley/comfycoord/coordinator"
	"github.com/richinsley/comfycoord/groupexec"
)

/*
POST /group_config/save
GET  /group_config/load
POST /groupexec/plan
POST /groupexec/trigger
POST /groupexec/release
POST /groupexec/force_release
GET  /system_stats
GET  /ws
*/

// SaveGroupConfig replaces the server's group configuration and returns
// the resulting content hash for change detection.
func (c *CoordClient) SaveGroupConfig(groups []groupexec.GroupDescriptor) (string, error) {
	data, err := json.Marshal(groups)
	if err != nil {
		return "", err
	}
	resp, err := c.httpclient.Post(fmt.Sprintf("http://%s/group_config/save", c.serverBaseAddress), "application/json", strings.NewReader(string(data)))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	var result struct {
		OK         bool   `json:"ok"`
		ConfigHash string `json:"config_hash"`
		Error      string `json:"error"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return "", err
	}
	if !result.OK {
		return "", fmt.Errorf("group config save rejected: %s", result.Error)
	}
	return result.ConfigHash, nil
}

// LoadGroupConfig fetches the server's current group configuration and
// its content hash.
func (c *CoordClient) LoadGroupConfig() ([]groupexec.GroupDescriptor, string, error) {
	resp, err := c.httpclient.Get(fmt.Sprintf("http://%s/group_config/load", c.serverBaseAddress))
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	var result struct {
		Groups     []groupexec.GroupDescriptor `json:"groups"`
		ConfigHash string                      `json:"config_hash"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, "", err
	}
	return result.Groups, result.ConfigHash, nil
}

// CreatePlan asks the server to build an execution plan for this client.
// The raw payload is returned alongside the decoded form because the
// trigger endpoint consumes the payload verbatim.
func (c *CoordClient) CreatePlan() (*groupexec.ExecutionData, string, error) {
	resp, err := c.httpclient.Post(fmt.Sprintf("http://%s/groupexec/plan?clientId=%s", c.serverBaseAddress, c.clientid), "application/json", strings.NewReader("{}"))
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	data, err := groupexec.ParseExecutionData(string(body))
	if err != nil {
		return nil, "", err
	}
	return data, string(body), nil
}

// TriggerPlan submits one plan payload for validation and forwarding. The
// forwarded bundle arrives on the push stream, not in this response.
func (c *CoordClient) TriggerPlan(payload string) (*groupexec.TriggerResult, error) {
	resp, err := c.httpclient.Post(fmt.Sprintf("http://%s/groupexec/trigger?clientId=%s", c.serverBaseAddress, c.clientid), "application/json", strings.NewReader(payload))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	result := &groupexec.TriggerResult{}
	if err := json.Unmarshal(body, result); err != nil {
		return nil, err
	}
	return result, nil
}

// Release frees the execution gate once the whole group chain completed.
func (c *CoordClient) Release(executionID string, status coordinator.Status) error {
	req := map[string]string{
		"execution_id": executionID,
		"status":       string(status),
	}
	data, _ := json.Marshal(req)
	resp, err := c.httpclient.Post(fmt.Sprintf("http://%s/groupexec/release", c.serverBaseAddress), "application/json", strings.NewReader(string(data)))
	if err != nil {
		return err
	}
	io.ReadAll(resp.Body)
	resp.Body.Close()
	return nil
}

// ForceRelease clears the execution gate unconditionally. Operator
// recovery only.
func (c *CoordClient) ForceRelease() error {
	resp, err := c.httpclient.Post(fmt.Sprintf("http://%s/groupexec/force_release", c.serverBaseAddress), "application/json", strings.NewReader("{}"))
	if err != nil {
		return err
	}
	io.ReadAll(resp.Body)
	resp.Body.Close()
	return nil
}

// GetSystemStats retrieves the server's runtime and session diagnostics.
func (c *CoordClient) GetSystemStats() (map[string]any, error) {
	resp, err := c.httpclient.Get(fmt.Sprintf("http://%s/system_stats", c.serverBaseAddress))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	stats := make(map[string]any)
	if err := json.Unmarshal(body, &stats); err != nil {
		return nil, err
	}
	return stats, nil
}
