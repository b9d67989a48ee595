// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package provider

// Preset returns the built-in configuration for a well-known provider.
func Preset(name string) (Config, bool) {
	switch name {
	case "github":
		return Config{
			Kind:        KindOAuth2,
			AuthURL:     "https://github.com/login/oauth/authorize",
			TokenURL:    "https://github.com/login/oauth/access_token",
			UserInfoURL: "https://api.github.com/user",
			Scopes:      []string{"read:user", "user:email"},
			Mapping: Mapping{
				OpenID:   "id",
				Email:    "email",
				Nickname: "login",
				Avatar:   "avatar_url",
			},
		}, true

	case "google":
		return Config{
			Kind:      KindOIDC,
			IssuerURL: "https://accounts.google.com",
			Scopes:    []string{"openid", "profile", "email"},
			Mapping: Mapping{
				OpenID:   "sub",
				Email:    "email",
				Nickname: "name",
				Avatar:   "picture",
			},
		}, true

	case "wechat":
		return Config{
			Kind:           KindOAuth2,
			AuthURL:        "https://open.weixin.qq.com/connect/qrconnect",
			TokenURL:       "https://api.weixin.qq.com/sns/oauth2/access_token",
			UserInfoURL:    "https://api.weixin.qq.com/sns/userinfo",
			Scopes:         []string{"snsapi_login"},
			SupportsUnion:  true,
			TokenFields:    []string{"openid", "unionid"},
			UserInfoParams: map[string]string{"openid": "openid"},
			Mapping: Mapping{
				OpenID:   "openid",
				UnionID:  "unionid",
				Nickname: "nickname",
				Avatar:   "headimgurl",
			},
		}, true

	default:
		return Config{}, false
	}
}
