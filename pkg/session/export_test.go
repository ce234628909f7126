package session

type AccessTokenClaims = accessTokenClaims

var (
	NormaliseConfig   = normaliseConfig
	ParseAccessToken  = parseAccessToken
	VerifyAccessToken = verifyAccessToken
)
