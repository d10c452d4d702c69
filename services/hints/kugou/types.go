package kugou

// lyricSearchResponse is the /search envelope listing lyric candidates for a
// song hash.
type lyricSearchResponse struct {
	Status     int         `json:"status"`
	ErrCode    int         `json:"errcode"`
	ErrMsg     string      `json:"errmsg"`
	Candidates []candidate `json:"candidates"`
}

// candidate is one lyric match. Score is the API's own base score; the
// selector adds its own bonuses on top.
type candidate struct {
	ID          string `json:"id"`
	AccessKey   string `json:"accesskey"`
	ProductFrom string `json:"product_from"`
	Singer      string `json:"singer"`
	Song        string `json:"song"`
	Duration    int    `json:"duration"` // milliseconds
	Language    string `json:"language"`
	KRCType     int    `json:"krctype"` // 1 = synced
	Score       int    `json:"score"`
}

// lyricDownloadResponse carries the base64-encoded LRC body.
type lyricDownloadResponse struct {
	Status    int    `json:"status"`
	Info      string `json:"info"`
	ErrorCode int    `json:"error_code"`
	Fmt       string `json:"fmt"`
	Content   string `json:"content"`
}

// songSearchResponse is the song search envelope. Lyric search needs a song
// hash, which only this endpoint can supply.
type songSearchResponse struct {
	Status  int `json:"status"`
	ErrCode int `json:"errcode"`
	Data    struct {
		Total int        `json:"total"`
		Info  []songInfo `json:"info"`
	} `json:"data"`
}

type songInfo struct {
	Hash       string `json:"hash"`
	SQHash     string `json:"sqhash"`
	Hash320    string `json:"320hash"`
	SongName   string `json:"songname"`
	SingerName string `json:"singername"`
	AlbumName  string `json:"album_name"`
	Duration   int    `json:"duration"` // seconds
}
