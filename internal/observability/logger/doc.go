// Package logger wraps a process-wide zap logger with request scoping.
//
// Init once from main, then pull the scoped logger out of the context:
//
//	logger.Init(logger.Config{Env: cfg.App.Env, Level: cfg.Log.Level})
//	defer logger.Sync()
//
//	log := logger.From(ctx).With(logger.Layer("flow"), logger.Provider(name))
//	log.Info("callback accepted", logger.Subject(sub))
//
// Never hand raw tokens, client secrets or full e-mail addresses to a field;
// use MaskToken, MaskEmail and Subject, which only keep a fingerprint.
package logger
