// Package ollama implements llm.Provider against Ollama's native /api/chat
// endpoint. Streaming responses arrive as newline-delimited JSON objects,
// the last of which carries done=true and the token counts.
package ollama
