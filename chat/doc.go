// Package chat adapts live chat platforms to the moderation engine.
//
// Sources (Twitch IRC, YouTube live chat, a simulated generator, and the HTTP
// webhook feed) emit feed-shaped RawEvents. Normalize validates them and maps
// platform badges to roles; malformed events are dropped and counted. A Pump
// routes normalized events to the engine: messages to Ingest, joins to
// ObserveJoin, platform deletes to PlatformDelete.
//
// LiveWatcher polls Twitch Helix and opens a channel session (and its chat
// source) when the stream goes live, closing it when the stream ends.
package chat
