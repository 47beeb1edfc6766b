package logging

import "go.uber.org/zap"

// Field constructors for the identifiers every component logs, so the keys
// stay consistent across services and can be queried in one place.

func UserID(id string) zap.Field { return zap.String("user_id", id) }

func JTI(jti string) zap.Field { return zap.String("jti", jti) }

func Kid(kid string) zap.Field { return zap.String("kid", kid) }

func SessionID(id string) zap.Field { return zap.String("session_id", id) }

func FamilyID(id string) zap.Field { return zap.String("family_id", id) }

func Reason(reason string) zap.Field { return zap.String("reason", reason) }
