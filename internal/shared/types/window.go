package types

import "encoding/json"

// CreateWindowRequest is the createWindow payload.
type CreateWindowRequest struct {
	Parent   WindowHandle    `json:"parent"`
	InitData json.RawMessage `json:"initData,omitempty"`
}

// CreateWindowResponse carries the handle allocated by the shell.
type CreateWindowResponse struct {
	Handle WindowHandle `json:"handle"`
}

// WindowInfo is a read-only snapshot of a shell-side window.
type WindowInfo struct {
	Handle      WindowHandle `json:"handle"`
	Parent      WindowHandle `json:"parent"`
	Title       string       `json:"title"`
	Visible     bool         `json:"visible"`
	ReadyToShow bool         `json:"readyToShow"`
	Modal       bool         `json:"modal"`
	Style       WindowStyle  `json:"style"`
	Geometry    Geometry     `json:"geometry"`
	Menu        MenuHandle   `json:"menu,omitempty"`
}
