// Package moonraker 提供 Moonraker 打印机遥测服务的 HTTP 客户端
// 一次查询拉取全部关注的对象子树，缺失的子树容忍为空
package moonraker

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

const (
	apiObjectsQuery = "/printer/objects/query"
	apiFileMetadata = "/server/files/metadata"
)

// objectsQueryParams 固定的超集查询，涵盖叠加层模板所需的全部字段
// 历史版本曾按模板占位符拆分多次请求，现统一为单次查询
const objectsQueryParams = "extruder&heater_bed&print_stats&display_status&virtual_sdcard&gcode_move&motion_report"

type Config struct {
	URL    string // 例如 http://127.0.0.1:7125
	APIKey string // 可选
}

type Engine struct {
	cfg Config
	cli *http.Client
}

func NewEngine() Engine {
	return Engine{
		cli: &http.Client{
			Timeout: 5 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        30,
				MaxIdleConnsPerHost: 30,
				MaxConnsPerHost:     100,
			},
		},
	}
}

func (e Engine) SetConfig(cfg Config) Engine {
	e.cfg = cfg
	return e
}

// get 发送 GET 请求到 Moonraker API
func (e *Engine) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.cfg.URL+path, nil)
	if err != nil {
		return fmt.Errorf("moonraker: create request failed: %w", err)
	}
	if e.cfg.APIKey != "" {
		req.Header.Set("X-Api-Key", e.cfg.APIKey)
	}
	resp, err := e.cli.Do(req)
	if err != nil {
		return fmt.Errorf("moonraker: request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("moonraker: unexpected status code %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("moonraker: decode response failed: %w", err)
	}
	return nil
}

// QueryStatus 查询打印机状态快照
// 服务端缺失某个子树时，对应字段保持零值，调用方按“未知”处理
func (e *Engine) QueryStatus(ctx context.Context) (*Status, error) {
	var resp struct {
		Result struct {
			Status Status `json:"status"`
		} `json:"result"`
	}
	if err := e.get(ctx, apiObjectsQuery+"?"+objectsQueryParams, &resp); err != nil {
		return nil, err
	}
	return &resp.Result.Status, nil
}

// GetFileMetadata 查询切片文件元数据（切片器、预估时长、总层数、耗材量）
func (e *Engine) GetFileMetadata(ctx context.Context, filename string) (*FileMetadata, error) {
	if filename == "" {
		return nil, fmt.Errorf("moonraker: filename is required")
	}
	var resp struct {
		Result FileMetadata `json:"result"`
	}
	path := apiFileMetadata + "?filename=" + url.QueryEscape(filename)
	if err := e.get(ctx, path, &resp); err != nil {
		return nil, err
	}
	return &resp.Result, nil
}
