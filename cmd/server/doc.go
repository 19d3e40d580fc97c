// Package main is the entry point for the HotPin companion server.
//
// This application mediates between one embedded HotPin device
// (microphone + camera over WebSocket/HTTP) and the cloud AI services
// that power its voice assistant.
//
// Architecture:
//
//	HotPin device (ESP32) → Go Server → Groq Whisper (STT)
//	                                  → Groq Chat (LLM)
//	                                  → Groq PlayAI (TTS)
//
// The server provides:
//   - WebSocket session protocol (capture, processing, playback)
//   - Chunked audio ingestion with disk-quota temp storage
//   - HTTP side channel for image uploads
//   - Diagnostic state and health endpoints
//   - Prometheus metrics
//
// Configuration is environment-driven (12-factor) with development
// defaults; see internal/infrastructure/config.
//
// Signals:
//   - SIGINT, SIGTERM: Graceful shutdown
package main
