package ircd

// Numerics actually emitted by the core, per RFC 2812 and IRCv3 SASL.
const (
	RPL_WELCOME       = "001"
	RPL_TOPIC         = "332"
	RPL_TOPICWHOTIME  = "333"
	RPL_NAMREPLY      = "353"
	RPL_ENDOFNAMES    = "366"
	RPL_WHOISUSER     = "311"
	RPL_WHOISSERVER   = "312"
	RPL_WHOISCHANNELS = "319"
	RPL_ENDOFWHOIS    = "318"
	RPL_WHOISACCOUNT  = "330"
	RPL_WHOISACTUALLY = "671"

	ERR_NOSUCHNICK      = "401"
	ERR_NOSUCHCHANNEL   = "403"
	ERR_CANNOTSENDTOCHAN = "404"
	ERR_UNKNOWNCOMMAND  = "421"
	ERR_NICKNAMEINUSE   = "433"
	ERR_INVITEONLYCHAN  = "473"
	ERR_BANNEDFROMCHAN  = "474"
	ERR_BADCHANNELKEY   = "475"
	ERR_CHANNELISFULL   = "471"
	ERR_LINKCHANNEL     = "477"
	ERR_CHANOPRIVSNEEDED = "482"

	RPL_LOGGEDIN    = "900"
	RPL_SASLSUCCESS = "903"
	ERR_SASLFAIL    = "904"
)
