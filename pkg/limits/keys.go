package limits

// keyBuilder builds bucket keys under a prefix.
type keyBuilder struct {
	prefix string
}

func (k keyBuilder) account(clientID string) string {
	return k.prefix + ":acct:{" + clientID + "}"
}

func (k keyBuilder) endpoint(clientID, endpoint string) string {
	return k.prefix + ":ep:{" + clientID + "}:" + endpoint
}

func (k keyBuilder) global() string {
	return k.prefix + ":global"
}

func (k keyBuilder) forLevel(level Level, clientID, endpoint string) string {
	switch level {
	case LevelEndpoint:
		return k.endpoint(clientID, endpoint)
	case LevelGlobal:
		return k.global()
	default:
		return k.account(clientID)
	}
}
